package finance

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/conciliation-system/internal/model"
)

const dateLayout = "2006-01-02"

// perfectTolerance задаёт расхождение, которое ещё считается точным совпадением.
var perfectTolerance = decimal.RequireFromString("0.01")

// Tolerance задаёт порог незначительного расхождения в процентах от суммы платежа.
type Tolerance struct {
	MinorPercent decimal.Decimal
}

// DefaultTolerance возвращает порог по умолчанию: 5% от суммы платежа.
func DefaultTolerance() Tolerance {
	return Tolerance{MinorPercent: decimal.NewFromInt(5)}
}

// GroupID строит идентификатор группы из даты, способа оплаты и канала.
func GroupID(date time.Time, method, channel string) string {
	return date.Format(dateLayout) + "|" + method + "|" + channel
}

// BuildGroups объединяет продажи по дню, способу оплаты и каналу.
// Группы упорядочены по дате, затем по способу оплаты и каналу.
func BuildGroups(sales []model.Sale) []model.AutoReconciliationGroup {
	index := make(map[string]int)
	var groups []model.AutoReconciliationGroup

	for _, s := range sales {
		day := truncateDay(s.Date)
		id := GroupID(day, s.PaymentMethod, s.Channel)

		i, ok := index[id]
		if !ok {
			groups = append(groups, model.AutoReconciliationGroup{
				ID:            id,
				Date:          day,
				PaymentMethod: s.PaymentMethod,
				Channel:       s.Channel,
				TotalAmount:   decimal.Zero,
			})
			i = len(groups) - 1
			index[id] = i
		}

		groups[i].Sales = append(groups[i].Sales, s)
		groups[i].TotalAmount = groups[i].TotalAmount.Add(s.Price)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if !groups[i].Date.Equal(groups[j].Date) {
			return groups[i].Date.Before(groups[j].Date)
		}
		if groups[i].PaymentMethod != groups[j].PaymentMethod {
			return groups[i].PaymentMethod < groups[j].PaymentMethod
		}
		return groups[i].Channel < groups[j].Channel
	})

	return groups
}

// Classify относит расхождение суммы платежа и группы к одной из трёх категорий.
func Classify(paymentAmount, groupTotal decimal.Decimal, tol Tolerance) model.Discrepancy {
	diff := paymentAmount.Sub(groupTotal).Abs()
	if diff.LessThanOrEqual(perfectTolerance) {
		return model.DiscrepancyPerfect
	}

	limit := paymentAmount.Abs().Mul(tol.MinorPercent).Div(decimal.NewFromInt(100))
	if diff.LessThanOrEqual(limit) {
		return model.DiscrepancyMinor
	}

	return model.DiscrepancyMajor
}

// MatchGroups подбирает каждой группе несверенный платёж той же даты и способа оплаты
// с ближайшей суммой. Платёж без канала подходит группе любого канала.
// Каждый платёж используется не более одного раза. Классификация записывается в группы.
func MatchGroups(groups []model.AutoReconciliationGroup, payments []model.Payment, tol Tolerance) []model.Match {
	used := make(map[uuid.UUID]bool)
	var matches []model.Match

	for gi := range groups {
		g := &groups[gi]

		best := -1
		var bestDiff decimal.Decimal
		for pi, p := range payments {
			if used[p.ID] || p.IsReconciled {
				continue
			}
			if !truncateDay(p.Date).Equal(g.Date) || !strings.EqualFold(p.PaymentMethod, g.PaymentMethod) {
				continue
			}
			if p.Channel != nil && *p.Channel != "" && !strings.EqualFold(*p.Channel, g.Channel) {
				continue
			}

			diff := p.Amount.Sub(g.TotalAmount).Abs()
			if best == -1 || diff.LessThan(bestDiff) {
				best = pi
				bestDiff = diff
			}
		}

		if best == -1 {
			continue
		}

		p := payments[best]
		used[p.ID] = true
		g.Discrepancy = Classify(p.Amount, g.TotalAmount, tol)

		matches = append(matches, model.Match{
			PaymentID:        p.ID,
			GroupID:          g.ID,
			AmountDifference: p.Amount.Sub(g.TotalAmount),
			IsCompatible:     g.Discrepancy != model.DiscrepancyMajor,
		})
	}

	return matches
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
