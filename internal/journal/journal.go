// internal/journal/journal.go
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rovshanmuradov/curve-bundler/internal/events"
	"github.com/rovshanmuradov/curve-bundler/internal/storage"
	"github.com/rovshanmuradov/curve-bundler/internal/storage/models"
	"go.uber.org/zap"
)

const (
	defaultRetries         = 5
	defaultInitialInterval = 100 * time.Millisecond
)

// WriteRecorder is notified of every write outcome.
type WriteRecorder interface {
	RecordJournalWrite(err error)
}

// Subscriber is the subset of events.Bus the journal needs.
type Subscriber interface {
	Subscribe(eventType events.EventType, handler events.Handler) *events.Subscription
}

type Config struct {
	Store           storage.Storage
	Retries         uint
	InitialInterval time.Duration
	Recorder        WriteRecorder
	Logger          *zap.Logger
}

// Journal persists committed trades and curve creations. Storage writes are
// retried with exponential backoff; a duplicate key means an earlier attempt
// already landed and counts as success.
type Journal struct {
	store    storage.Storage
	retries  uint
	interval time.Duration
	recorder WriteRecorder
	logger   *zap.Logger
	subs     []*events.Subscription
}

func New(cfg Config) (*Journal, error) {
	if cfg.Store == nil {
		return nil, errors.New("journal: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retries == 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	return &Journal{
		store:    cfg.Store,
		retries:  cfg.Retries,
		interval: cfg.InitialInterval,
		recorder: cfg.Recorder,
		logger:   cfg.Logger.Named("journal"),
	}, nil
}

// Attach subscribes the journal to curve and trade events on bus.
func (j *Journal) Attach(bus Subscriber) {
	for _, typ := range []events.EventType{events.CurveCreated, events.TradeBuy, events.TradeSell} {
		j.subs = append(j.subs, bus.Subscribe(typ, j))
	}
}

// Detach removes every subscription made by Attach.
func (j *Journal) Detach() {
	for _, s := range j.subs {
		s.Unsubscribe()
	}
	j.subs = nil
}

// Handle implements events.Handler.
func (j *Journal) Handle(ctx context.Context, e events.Event) error {
	switch ev := e.(type) {
	case *events.TradeEvent:
		rec := TradeRecord(ev)
		return j.persist(ctx, "trade", rec.ID, func() error {
			return j.store.InsertTrade(ctx, rec)
		})
	case *events.CurveCreatedEvent:
		rec := CurveRecord(ev)
		return j.persist(ctx, "curve", rec.Curve, func() error {
			return j.store.InsertCurve(ctx, rec)
		})
	default:
		return nil
	}
}

func (j *Journal) persist(ctx context.Context, kind, key string, write func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = j.interval
	policy.MaxInterval = j.interval * 10

	operation := func() (struct{}, error) {
		err := write()
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, storage.ErrDuplicateKey):
			j.logger.Debug("Record already journaled", zap.String("kind", kind), zap.String("key", key))
			return struct{}{}, nil
		case errors.Is(err, storage.ErrInvalidInput):
			return struct{}{}, backoff.Permanent(err)
		default:
			return struct{}{}, err
		}
	}

	notify := func(err error, d time.Duration) {
		j.logger.Warn("Journal write failed, retrying",
			zap.String("kind", kind),
			zap.String("key", key),
			zap.Duration("backoff", d),
			zap.Error(err))
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(j.retries),
		backoff.WithNotify(notify))

	if j.recorder != nil {
		j.recorder.RecordJournalWrite(err)
	}
	if err != nil {
		j.logger.Error("Journal write abandoned",
			zap.String("kind", kind),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("journal %s %s: %w", kind, key, err)
	}
	return nil
}

// TradeRecord converts a committed trade event into its stored form.
func TradeRecord(e *events.TradeEvent) *models.TradeRecord {
	return &models.TradeRecord{
		ID:             e.ID,
		Side:           models.Side(e.Side()),
		Curve:          e.Curve.String(),
		Token:          e.Token.String(),
		Caller:         e.Caller.String(),
		Recipient:      e.Recipient.String(),
		AmountIn:       e.AmountIn.Clone(),
		AmountOutGross: e.AmountOutGross.Clone(),
		AmountOut:      e.AmountOut.Clone(),
		Fee:            e.Fee.Clone(),
		VirtualNative:  e.VirtualNative.Clone(),
		VirtualToken:   e.VirtualToken.Clone(),
		ExecutedAt:     e.Timestamp().UTC(),
	}
}

func CurveRecord(e *events.CurveCreatedEvent) *models.CurveRecord {
	return &models.CurveRecord{
		Curve:     e.Curve.String(),
		Token:     e.Token.String(),
		Creator:   e.Creator.String(),
		Name:      e.Name,
		Symbol:    e.Symbol,
		TokenURI:  e.TokenURI,
		DeployFee: e.DeployFee.Clone(),
		CreatedAt: e.Timestamp().UTC(),
	}
}
