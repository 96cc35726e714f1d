package policy

import (
	"context"
)

const DefaultQuotaLimit = 5

// ActiveCounter counts deliveries that are started but neither ended nor
// canceled.
type ActiveCounter interface {
	CountActive(ctx context.Context, deliverymanID int64) (int64, error)
}

// Quota caps the number of active deliveries a deliveryman holds. CanStart
// is only meaningful when called inside the transaction that also writes
// the start date, after the deliveryman row has been locked.
type Quota struct {
	counter ActiveCounter
	limit   int64
}

func NewQuota(counter ActiveCounter, limit int64) *Quota {
	if limit <= 0 {
		limit = DefaultQuotaLimit
	}
	return &Quota{counter: counter, limit: limit}
}

func (q *Quota) Limit() int64 {
	return q.limit
}

func (q *Quota) CountActive(ctx context.Context, deliverymanID int64) (int64, error) {
	return q.counter.CountActive(ctx, deliverymanID)
}

func (q *Quota) CanStart(ctx context.Context, deliverymanID int64) (bool, error) {
	n, err := q.counter.CountActive(ctx, deliverymanID)
	if err != nil {
		return false, err
	}
	return n < q.limit, nil
}
