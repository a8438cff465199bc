// Package overdue is the monitor's private, read-only view of the loans table.
//
// It deliberately does not share the foreground gorm pool: each Reader owns a
// single sqlx connection that only the monitor worker touches.
package overdue

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mrlokans/circulation/internal/database"
	"github.com/mrlokans/circulation/internal/entities"
	"github.com/mrlokans/circulation/internal/monitor"
)

const (
	dialectSQLite = "sqlite3"

	colID         = "id"
	colIsReturned = "is_returned"
	colDueDate    = "due_date"
)

type Reader struct {
	db *sqlx.DB
}

// Open connects read-only to the database file at path and verifies the
// connection. A missing file is an error rather than a fresh empty database.
func Open(ctx context.Context, path string) (*Reader, error) {
	params := database.BusyTimeout()
	params.Set("mode", "ro")
	db, err := sqlx.Open("sqlite3", database.FileURI(path, params))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	return &Reader{db: db}, nil
}

// NewOpener returns a monitor.Opener that opens a Reader on path.
func NewOpener(path string) monitor.Opener {
	return func(ctx context.Context) (monitor.Conn, error) {
		r, err := Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

func overdueWhere(asOf time.Time) []goqu.Expression {
	return []goqu.Expression{
		goqu.C(colIsReturned).Eq(0),
		goqu.C(colDueDate).Lt(entities.FormatDate(asOf)),
	}
}

// CountOverdue counts unreturned loans whose due date is before asOf's calendar day.
func (r *Reader) CountOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	query, args, err := goqu.Dialect(dialectSQLite).
		From(entities.LoanTable).
		Select(goqu.COUNT(goqu.Star())).
		Where(overdueWhere(asOf)...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var count int64
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, err
	}
	return count, nil
}

// OverdueIDs lists up to limit overdue loan IDs, oldest due date first.
func (r *Reader) OverdueIDs(ctx context.Context, asOf time.Time, limit int) ([]uint, error) {
	if limit <= 0 {
		return nil, nil
	}

	query, args, err := goqu.Dialect(dialectSQLite).
		From(entities.LoanTable).
		Select(goqu.C(colID)).
		Where(overdueWhere(asOf)...).
		Order(goqu.C(colDueDate).Asc(), goqu.C(colID).Asc()).
		Limit(uint(limit)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	var ids []uint
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Reader) Close() error {
	return r.db.Close()
}
