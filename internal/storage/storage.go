// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rovshanmuradov/curve-bundler/internal/storage/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a record with the same key was already
	// written. Records are append-only.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when a record fails validation.
	ErrInvalidInput = errors.New("invalid input")
)

// TradeFilter narrows ListTrades. Zero fields match everything.
type TradeFilter struct {
	Token string
	Side  models.Side
	Since time.Time
	Limit int
}

// Storage persists settled trades and created curves.
type Storage interface {
	// InsertTrade adds a trade. Returns ErrDuplicateKey if the id exists.
	InsertTrade(ctx context.Context, t *models.TradeRecord) error

	// InsertTrades adds a batch of trades. The batch fails as a whole.
	InsertTrades(ctx context.Context, trades []*models.TradeRecord) error

	// GetTrade returns the trade with the given id or ErrNotFound.
	GetTrade(ctx context.Context, id string) (*models.TradeRecord, error)

	// ListTrades returns trades ordered by execution time, then id.
	ListTrades(ctx context.Context, f TradeFilter) ([]*models.TradeRecord, error)

	// InsertCurve adds a created curve. Returns ErrDuplicateKey if the
	// curve address exists.
	InsertCurve(ctx context.Context, c *models.CurveRecord) error

	// ListCurves returns curves ordered by creation time.
	ListCurves(ctx context.Context) ([]*models.CurveRecord, error)

	RunMigrations(ctx context.Context) error
	Close()
}

// Match reports whether t passes the filter's field predicates. Limit is
// applied by the caller.
func (f TradeFilter) Match(t *models.TradeRecord) bool {
	if f.Token != "" && t.Token != f.Token {
		return false
	}
	if f.Side != "" && t.Side != f.Side {
		return false
	}
	if !f.Since.IsZero() && t.ExecutedAt.Before(f.Since) {
		return false
	}
	return true
}
