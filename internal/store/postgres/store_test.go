package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coupon-engine/internal/coupon"
)

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type storedRow struct {
	id      int64
	code    string
	kind    string
	details string
}

type fakeRows struct {
	pgx.Rows
	data   []storedRow
	pos    int
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	stamp := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	*dest[0].(*int64) = row.id
	*dest[1].(*string) = row.code
	*dest[2].(*string) = row.kind
	*dest[3].(*[]byte) = []byte(row.details)
	*dest[4].(*[]string) = []string{}
	*dest[6].(*time.Time) = stamp
	*dest[7].(*time.Time) = stamp
	return nil
}

func (r *fakeRows) Close()     { r.closed = true }
func (r *fakeRows) Err() error { return nil }

type fakeDB struct {
	rows    *fakeRows
	rowErr  error
	execTag pgconn.CommandTag
	execErr error
	lastSQL string
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.lastSQL = sql
	return f.execTag, f.execErr
}

func (f *fakeDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.lastSQL = sql
	if f.rows == nil {
		return nil, errors.New("no rows configured")
	}
	return f.rows, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.lastSQL = sql
	return errRow{err: f.rowErr}
}

func sample() *coupon.Coupon {
	return &coupon.Coupon{
		Code: "save10",
		Rule: coupon.CartWiseRule{Threshold: decimal.NewFromInt(100), Amount: decimal.NewFromInt(10), Mode: coupon.ModePercentage},
	}
}

func TestCreateMapsUniqueViolation(t *testing.T) {
	db := &fakeDB{rowErr: &pgconn.PgError{Code: uniqueViolation, ConstraintName: "coupons_code_key"}}
	err := New(db).Create(context.Background(), sample())
	require.ErrorIs(t, err, coupon.ErrCodeTaken)
}

func TestGetMapsNoRows(t *testing.T) {
	db := &fakeDB{rowErr: pgx.ErrNoRows}
	_, err := New(db).Get(context.Background(), 1)
	require.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	c := sample()
	c.ID = 9
	db := &fakeDB{rowErr: pgx.ErrNoRows}
	require.ErrorIs(t, New(db).Update(context.Background(), c), coupon.ErrNotFound)
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("DELETE 0")}
	require.ErrorIs(t, New(db).Delete(context.Background(), 3), coupon.ErrNotFound)

	db.execTag = pgconn.NewCommandTag("DELETE 1")
	require.NoError(t, New(db).Delete(context.Background(), 3))
}

func TestMarkMasterUsedReadsRowsAffected(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	ok, err := UsageTracker{DB: db}.MarkMasterUsed(context.Background(), 1, "c")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, db.lastSQL, "ON CONFLICT")

	db.execTag = pgconn.NewCommandTag("INSERT 0 0")
	ok, err = UsageTracker{DB: db}.MarkMasterUsed(context.Background(), 1, "c")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/coupons?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/coupons?sslmode=disable"))
	require.Equal(t, "pgx5://h/db", migrateURL("postgresql://h/db"))
	require.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}

func mixedRows() *fakeRows {
	return &fakeRows{data: []storedRow{
		{id: 1, code: "SAVE10", kind: "cart-wise", details: `{"threshold":"100","discount":"10","discount_type":"percentage"}`},
		{id: 2, code: "BROKEN", kind: "bxgy", details: `{"buy_products":5}`},
	}}
}

func TestListKeepsRowsWithUndecodableDetails(t *testing.T) {
	db := &fakeDB{rows: mixedRows()}
	coupons, err := New(db).List(context.Background())
	require.NoError(t, err)
	require.Len(t, coupons, 2)
	require.True(t, db.rows.closed)

	require.Equal(t, coupon.KindCartWise, coupons[0].Kind())
	require.Equal(t, int64(2), coupons[1].ID)
	require.Equal(t, "BROKEN", coupons[1].Code)
	require.Nil(t, coupons[1].Rule)
	require.ErrorIs(t, coupon.ValidateRule(coupons[1].Rule), coupon.ErrInvalidRuleParameters)
}

func TestRankingSkipsRowsWithUndecodableDetails(t *testing.T) {
	engine := &coupon.Engine{Catalog: New(&fakeDB{rows: mixedRows()})}
	cart := coupon.Cart{Items: []coupon.CartItem{{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromInt(100)}}}

	out, err := engine.ListApplicable(context.Background(), cart)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(1), out[0].CouponID)
	require.True(t, decimal.NewFromInt(20).Equal(out[0].Discount))
}
