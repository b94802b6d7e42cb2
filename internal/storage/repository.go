package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the archive pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertRecordSQL = `INSERT INTO rate_records (
        rate_date,
        recorded_at,
        rate,
        sources,
        target_rate,
        state,
        alert_sent,
        daily_report_sent,
        notes
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	listRecordsBetweenSQL = `SELECT
        rate_date,
        recorded_at,
        rate,
        sources,
        target_rate,
        state,
        alert_sent,
        daily_report_sent,
        notes
    FROM rate_records
    WHERE recorded_at >= $1
      AND recorded_at < $2
    ORDER BY recorded_at;`

	listRecentRecordsSQL = `SELECT
        rate_date,
        recorded_at,
        rate,
        sources,
        target_rate,
        state,
        alert_sent,
        daily_report_sent,
        notes
    FROM rate_records
    ORDER BY recorded_at DESC
    LIMIT $1;`

	countRecordsSQL = `SELECT COUNT(*) FROM rate_records;`

	deleteRecordsBeforeSQL = `DELETE FROM rate_records WHERE recorded_at < $1;`
)

// RecordArchive defines operations on the optional long-history mirror.
type RecordArchive interface {
	InsertRecord(ctx context.Context, rec RateRecord) error
	ListRecentRecords(ctx context.Context, limit int) ([]RateRecord, error)
	ListRecordsBetween(ctx context.Context, from, to time.Time) ([]RateRecord, error)
	CountRecords(ctx context.Context) (int64, error)
	DeleteRecordsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// Archive mirrors appended rate records into PostgreSQL for reporting.
// The CSV history file stays the table of record; the archive only backs
// the show/export/prune commands over longer windows.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive wires a pgx pool into an Archive.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// Close releases the underlying pool resources.
func (a *Archive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

func (a *Archive) getPool() (*pgxpool.Pool, error) {
	if a == nil || a.pool == nil {
		return nil, ErrNotConfigured
	}
	return a.pool, nil
}

// InsertRecord mirrors one history row.
func (a *Archive) InsertRecord(ctx context.Context, rec RateRecord) error {
	pool, err := a.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertRecordSQL,
		rec.Date,
		rec.Timestamp,
		rec.Rate.String(),
		rec.Sources,
		rec.TargetRate.String(),
		rec.State,
		rec.AlertSent,
		rec.DailyReportSent,
		rec.Notes,
	)
	if execErr != nil {
		return fmt.Errorf("insert rate record: %w", execErr)
	}
	return nil
}

// ListRecentRecords lists the most recent rows ordered by descending time.
func (a *Archive) ListRecentRecords(ctx context.Context, limit int) ([]RateRecord, error) {
	pool, err := a.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRecordsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent records: %w", queryErr)
	}
	defer rows.Close()

	return collectRecords(rows, limit)
}

// ListRecordsBetween lists rows within a time window in ascending order.
func (a *Archive) ListRecordsBetween(ctx context.Context, from, to time.Time) ([]RateRecord, error) {
	pool, err := a.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecordsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list records between: %w", queryErr)
	}
	defer rows.Close()

	return collectRecords(rows, 0)
}

// CountRecords counts archived rows.
func (a *Archive) CountRecords(ctx context.Context) (int64, error) {
	pool, err := a.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRecordsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count records: %w", scanErr)
	}
	return count, nil
}

// DeleteRecordsBefore applies the retention window and reports how many
// rows were removed.
func (a *Archive) DeleteRecordsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := a.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteRecordsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete records before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectRecords(rows pgx.Rows, sizeHint int) ([]RateRecord, error) {
	records := make([]RateRecord, 0, sizeHint)
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanRecord(rows pgx.Rows) (RateRecord, error) {
	var rec RateRecord
	var rateStr, targetStr string

	if err := rows.Scan(
		&rec.Date,
		&rec.Timestamp,
		&rateStr,
		&rec.Sources,
		&targetStr,
		&rec.State,
		&rec.AlertSent,
		&rec.DailyReportSent,
		&rec.Notes,
	); err != nil {
		return RateRecord{}, fmt.Errorf("scan rate record: %w", err)
	}

	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return RateRecord{}, fmt.Errorf("parse archived rate: %w", err)
	}
	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return RateRecord{}, fmt.Errorf("parse archived target rate: %w", err)
	}

	rec.Rate = rate
	rec.TargetRate = target
	return rec, nil
}

var _ RecordArchive = (*Archive)(nil)
