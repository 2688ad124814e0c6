// Package salesfeed предоставляет клиент для внешней ленты продаж.
package salesfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/conciliation-system/internal/model"
)

const dateLayout = "2006-01-02"

// Client инкапсулирует HTTP-взаимодействие с лентой продаж.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// FeedSale описывает одну продажу в ответе ленты.
type FeedSale struct {
	Date          string          `json:"date"`
	OrderNumber   string          `json:"order_number"`
	SKU           string          `json:"sku"`
	Channel       string          `json:"channel"`
	PaymentMethod string          `json:"payment_method"`
	Price         decimal.Decimal `json:"price"`
}

// ToSale преобразует продажу ленты в доменную продажу.
func (f FeedSale) ToSale() (model.Sale, error) {
	date, err := time.Parse(dateLayout, f.Date)
	if err != nil {
		date, err = time.Parse(time.RFC3339, f.Date)
		if err != nil {
			return model.Sale{}, fmt.Errorf("parse sale date %q: %w", f.Date, err)
		}
	}

	if f.OrderNumber == "" || f.SKU == "" {
		return model.Sale{}, fmt.Errorf("sale without order number or sku")
	}

	return model.Sale{
		Date:          date,
		OrderNumber:   f.OrderNumber,
		SKU:           f.SKU,
		Channel:       f.Channel,
		PaymentMethod: f.PaymentMethod,
		Price:         f.Price,
	}, nil
}

// NewClient создаёт HTTP-клиент для обращения к ленте продаж по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetSales запрашивает продажи, появившиеся начиная с since. Nil since запрашивает всю ленту.
// Для ответа 429 возвращается время ожидания из Retry-After.
func (c *Client) GetSales(ctx context.Context, since *time.Time) ([]FeedSale, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, fmt.Errorf("sales feed client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	endpoint := base + "/api/sales"
	if since != nil {
		endpoint += "?" + url.Values{"since": {since.UTC().Format(time.RFC3339)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, resp.StatusCode, 0, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result []FeedSale
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}

	return result, resp.StatusCode, 0, nil
}
