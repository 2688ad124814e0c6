// Package cache содержит кэш результатов запросов с инвалидацией по тегам
// и блокировки для операций, которые не должны выполняться параллельно.
package cache

import (
	"context"
	"errors"
	"time"
)

// Tag группирует ключи кэша, которые сбрасываются вместе после изменения данных.
type Tag string

const (
	TagPaymentsForReconciliation Tag = "payments-for-reconciliation"
	TagUnreconciledSales         Tag = "unreconciled-sales"
	TagPaymentsData              Tag = "payments-data"
	TagBankAccounts              Tag = "bank-accounts"
)

// ReconciliationTags содержит теги, сбрасываемые после любой сверки платежа.
var ReconciliationTags = []Tag{TagPaymentsForReconciliation, TagUnreconciledSales, TagPaymentsData}

// For возвращает имя тега в пределах области видимости, например компании.
func (t Tag) For(scope string) string {
	return string(t) + ":" + scope
}

// Cache хранит сериализованные результаты запросов.
type Cache interface {
	// Get читает значение по ключу в dest и сообщает, найдено ли оно.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	// Set сохраняет значение на ttl и привязывает ключ к тегам.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error
	// Invalidate удаляет все ключи, привязанные к тегам.
	Invalidate(ctx context.Context, tags ...string) error
}

// ErrNotObtained возвращается, если блокировка уже удерживается другим владельцем.
var ErrNotObtained = errors.New("lock not obtained")

// Locker выдаёт блокировки по ключу.
type Locker interface {
	// Obtain захватывает блокировку на ttl и возвращает функцию её освобождения.
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}
