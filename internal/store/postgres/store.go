// Package postgres persists the coupon catalog and master usage in
// PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/noah-isme/coupon-engine/internal/coupon"
)

// DBTX is the subset of pgxpool.Pool and pgx.Tx the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

const couponColumns = `id, code, type, details, tags, expires_at, created_at, updated_at`

// Store is a coupon.Repository backed by the coupons table.
type Store struct {
	db     DBTX
	now    func() time.Time
	logger zerolog.Logger
}

var _ coupon.Repository = (*Store)(nil)

// New returns a store issuing queries through db.
func New(db DBTX) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }, logger: zerolog.Nop()}
}

// WithLogger sets the logger used to report rows with undecodable details.
func (s *Store) WithLogger(logger zerolog.Logger) *Store {
	s.logger = logger
	return s
}

// Create inserts c and fills in its id and timestamps.
func (s *Store) Create(ctx context.Context, c *coupon.Coupon) error {
	details, err := encodeRule(c.Rule)
	if err != nil {
		return err
	}
	now := s.now()
	code := coupon.NormalizeCode(c.Code)
	err = s.db.QueryRow(ctx, `
		INSERT INTO coupons (code, type, details, tags, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`,
		code, string(c.Kind()), details, tagsParam(c.Tags), c.ExpiresAt, now,
	).Scan(&c.ID)
	if err != nil {
		return mapWriteErr("insert coupon", err)
	}
	c.Code = code
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// Get returns the coupon with id.
func (s *Store) Get(ctx context.Context, id int64) (coupon.Coupon, error) {
	row := s.db.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id)
	return s.scanCoupon(row)
}

// GetByCode looks a coupon up by code, ignoring case.
func (s *Store) GetByCode(ctx context.Context, code string) (coupon.Coupon, error) {
	row := s.db.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE upper(code) = $1`, coupon.NormalizeCode(code))
	return s.scanCoupon(row)
}

// List returns every coupon ordered by id.
func (s *Store) List(ctx context.Context) ([]coupon.Coupon, error) {
	return s.query(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY id`)
}

// ListByTags returns coupons carrying any of tags, ignoring case. No tags
// means all coupons.
func (s *Store) ListByTags(ctx context.Context, tags []string) ([]coupon.Coupon, error) {
	if len(tags) == 0 {
		return s.List(ctx)
	}
	lowered := make([]string, 0, len(tags))
	for _, t := range tags {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(t)))
	}
	return s.query(ctx, `
		SELECT `+couponColumns+` FROM coupons
		WHERE EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE lower(btrim(t)) = ANY($1))
		ORDER BY id`, lowered)
}

// Update replaces the mutable fields of an existing coupon.
func (s *Store) Update(ctx context.Context, c *coupon.Coupon) error {
	details, err := encodeRule(c.Rule)
	if err != nil {
		return err
	}
	code := coupon.NormalizeCode(c.Code)
	err = s.db.QueryRow(ctx, `
		UPDATE coupons
		SET code = $2, type = $3, details = $4, tags = $5, expires_at = $6, updated_at = $7
		WHERE id = $1
		RETURNING created_at, updated_at`,
		c.ID, code, string(c.Kind()), details, tagsParam(c.Tags), c.ExpiresAt, s.now(),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return mapWriteErr("update coupon", err)
	}
	c.Code = code
	return nil
}

// Delete removes the coupon with id along with its usage records.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM coupons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete coupon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]coupon.Coupon, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query coupons: %w", err)
	}
	defer rows.Close()

	var out []coupon.Coupon
	for rows.Next() {
		c, err := s.scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coupons: %w", err)
	}
	return out, nil
}

// scanCoupon reads one row. Details that no longer decode leave Rule nil so
// the engine treats the coupon as invalid instead of failing the whole read.
func (s *Store) scanCoupon(row pgx.Row) (coupon.Coupon, error) {
	var (
		c       coupon.Coupon
		kind    string
		details []byte
	)
	if err := row.Scan(&c.ID, &c.Code, &kind, &details, &c.Tags, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.Coupon{}, coupon.ErrNotFound
		}
		return coupon.Coupon{}, fmt.Errorf("scan coupon: %w", err)
	}
	rule, err := coupon.RestoreRule(coupon.Kind(kind), details)
	if err != nil {
		s.logger.Warn().Err(err).Int64("coupon_id", c.ID).Str("type", kind).Msg("stored coupon details do not decode")
		return c, nil
	}
	c.Rule = rule
	return c, nil
}

func encodeRule(r coupon.Rule) (string, error) {
	if r == nil {
		return "", fmt.Errorf("%w: missing rule", coupon.ErrInvalidRuleParameters)
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode rule: %w", err)
	}
	return string(raw), nil
}

func tagsParam(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func mapWriteErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return coupon.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return coupon.ErrCodeTaken
	}
	return fmt.Errorf("%s: %w", op, err)
}
