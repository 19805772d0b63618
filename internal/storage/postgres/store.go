// internal/storage/postgres/store.go
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rovshanmuradov/curve-bundler/internal/storage"
	"github.com/rovshanmuradov/curve-bundler/internal/storage/models"
	"go.uber.org/zap"
)

// Store implements storage.Storage on PostgreSQL.
type Store struct {
	pool   *Pool
	logger *zap.Logger
}

var _ storage.Storage = (*Store)(nil)

// NewStore connects to dsn. Call RunMigrations before first use.
func NewStore(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := NewPool(ctx, dsn, logger)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, logger: logger.Named("postgres")}, nil
}

func (s *Store) RunMigrations(ctx context.Context) error {
	if err := s.pool.RunMigrations(ctx); err != nil {
		return err
	}
	s.logger.Info("Migrations applied")
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const insertTradeQuery = `
	INSERT INTO trade_records (
		trade_id, side, curve, token, caller, recipient,
		amount_in, amount_out_gross, amount_out, fee,
		virtual_native, virtual_token, executed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

const selectTradeColumns = `
	SELECT
		trade_id, side, curve, token, caller, recipient,
		amount_in::text, amount_out_gross::text, amount_out::text, fee::text,
		virtual_native::text, virtual_token::text, executed_at
	FROM trade_records
`

func tradeArgs(t *models.TradeRecord) []any {
	return []any{
		t.ID, string(t.Side), t.Curve, t.Token, t.Caller, t.Recipient,
		numeric(t.AmountIn), numeric(t.AmountOutGross), numeric(t.AmountOut), numeric(t.Fee),
		numeric(t.VirtualNative), numeric(t.VirtualToken), t.ExecutedAt.UTC(),
	}
}

// InsertTrade adds a trade. Returns ErrDuplicateKey if the id exists.
func (s *Store) InsertTrade(ctx context.Context, t *models.TradeRecord) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}

	if _, err := s.pool.Exec(ctx, insertTradeQuery, tradeArgs(t)...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade record: %w", err)
	}
	return nil
}

// InsertTrades adds a batch of trades in one transaction.
func (s *Store) InsertTrades(ctx context.Context, trades []*models.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	for _, t := range trades {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range trades {
		if _, err := tx.Exec(ctx, insertTradeQuery, tradeArgs(t)...); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade record in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) GetTrade(ctx context.Context, id string) (*models.TradeRecord, error) {
	row := s.pool.QueryRow(ctx, selectTradeColumns+" WHERE trade_id = $1", id)
	t, err := scanTradeRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade record by id: %w", err)
	}
	return t, nil
}

// ListTrades returns matching trades ordered by execution time, then id.
func (s *Store) ListTrades(ctx context.Context, f storage.TradeFilter) ([]*models.TradeRecord, error) {
	var (
		conds []string
		args  []any
	)
	if f.Token != "" {
		args = append(args, f.Token)
		conds = append(conds, fmt.Sprintf("token = $%d", len(args)))
	}
	if f.Side != "" {
		args = append(args, string(f.Side))
		conds = append(conds, fmt.Sprintf("side = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since.UTC())
		conds = append(conds, fmt.Sprintf("executed_at >= $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(selectTradeColumns)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY executed_at ASC, trade_id ASC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list trade records: %w", err)
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		t, err := scanTradeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade record row: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade record rows: %w", err)
	}
	return trades, nil
}

func (s *Store) InsertCurve(ctx context.Context, c *models.CurveRecord) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO curve_records (
			curve, token, creator, name, symbol, token_uri, deploy_fee, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query,
		c.Curve, c.Token, c.Creator, c.Name, c.Symbol, c.TokenURI,
		numeric(c.DeployFee), c.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert curve record: %w", err)
	}
	return nil
}

func (s *Store) ListCurves(ctx context.Context) ([]*models.CurveRecord, error) {
	query := `
		SELECT curve, token, creator, name, symbol, token_uri, deploy_fee::text, created_at
		FROM curve_records
		ORDER BY created_at ASC, curve ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list curve records: %w", err)
	}
	defer rows.Close()

	var curves []*models.CurveRecord
	for rows.Next() {
		var (
			c   models.CurveRecord
			fee string
		)
		if err := rows.Scan(&c.Curve, &c.Token, &c.Creator, &c.Name, &c.Symbol, &c.TokenURI, &fee, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan curve record row: %w", err)
		}
		if c.DeployFee, err = uint256.FromDecimal(fee); err != nil {
			return nil, fmt.Errorf("decode deploy_fee: %w", err)
		}
		curves = append(curves, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate curve record rows: %w", err)
	}
	return curves, nil
}

// scanTradeRecord scans one row selected with selectTradeColumns.
func scanTradeRecord(row pgx.Row) (*models.TradeRecord, error) {
	var (
		t       models.TradeRecord
		side    string
		amounts [6]string
	)
	err := row.Scan(
		&t.ID, &side, &t.Curve, &t.Token, &t.Caller, &t.Recipient,
		&amounts[0], &amounts[1], &amounts[2], &amounts[3],
		&amounts[4], &amounts[5], &t.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Side = models.Side(side)

	dst := []**uint256.Int{
		&t.AmountIn, &t.AmountOutGross, &t.AmountOut, &t.Fee,
		&t.VirtualNative, &t.VirtualToken,
	}
	for i, s := range amounts {
		v, err := uint256.FromDecimal(s)
		if err != nil {
			return nil, fmt.Errorf("decode amount %q: %w", s, err)
		}
		*dst[i] = v
	}
	return &t, nil
}

func numeric(v *uint256.Int) pgtype.Numeric {
	return pgtype.Numeric{Int: v.ToBig(), Valid: true}
}
