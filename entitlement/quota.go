package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mealvoice"
	"mealvoice/store"
)

// Usage is the recording allowance for the current day.
type Usage struct {
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Unlimited bool `json:"unlimited"`
}

// Remaining returns how many recordings are left today; -1 when unlimited.
func (u Usage) Remaining() int {
	if u.Unlimited {
		return -1
	}
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// Checker is consulted before a new recording is processed.
type Checker interface {
	CanPerformAction(ctx context.Context) (bool, error)
	CurrentUsage(ctx context.Context) (Usage, error)
	Consume(ctx context.Context) error
}

type counter struct {
	Date string `json:"date"`
	Used int    `json:"used"`
}

// Quota counts recordings per calendar day in the store.
type Quota struct {
	mu        sync.Mutex
	store     store.Store
	limit     int
	unlimited bool
	now       func() time.Time
}

func NewQuota(s store.Store, dailyLimit int, unlimited bool) *Quota {
	return &Quota{
		store:     s,
		limit:     dailyLimit,
		unlimited: unlimited,
		now:       time.Now,
	}
}

// Key returns the store key of the counter for date.
func Key(date string) string {
	return "usage/" + date
}

func (q *Quota) CanPerformAction(ctx context.Context) (bool, error) {
	u, err := q.CurrentUsage(ctx)
	if err != nil {
		return false, err
	}
	return u.Unlimited || u.Used < u.Limit, nil
}

func (q *Quota) CurrentUsage(ctx context.Context) (Usage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, err := q.load(ctx)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Used: c.Used, Limit: q.limit, Unlimited: q.unlimited}, nil
}

// Consume records one processed recording. It fails with
// mealvoice.ErrQuotaExceeded once the limit is reached.
func (q *Quota) Consume(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, err := q.load(ctx)
	if err != nil {
		return err
	}
	if !q.unlimited && c.Used >= q.limit {
		return fmt.Errorf("%w: %d of %d used on %s", mealvoice.ErrQuotaExceeded, c.Used, q.limit, c.Date)
	}
	c.Used++

	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := q.store.Set(ctx, Key(c.Date), b); err != nil {
		return fmt.Errorf("entitlement: save usage: %w", err)
	}
	slog.Info("ENTITLEMENT: Usage consumed", "date", c.Date, "used", c.Used, "limit", q.limit, "unlimited", q.unlimited)
	return nil
}

func (q *Quota) load(ctx context.Context) (counter, error) {
	date := q.now().Format("2006-01-02")
	b, err := q.store.Get(ctx, Key(date))
	if errors.Is(err, store.ErrNotFound) {
		return counter{Date: date}, nil
	}
	if err != nil {
		return counter{}, fmt.Errorf("entitlement: load usage: %w", err)
	}

	var c counter
	if err := json.Unmarshal(b, &c); err != nil {
		return counter{}, fmt.Errorf("entitlement: decode usage: %w", err)
	}
	c.Date = date
	return c, nil
}
