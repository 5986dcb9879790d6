package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"kolmowatch/internal/convert"
	"kolmowatch/internal/kolmo"
	"kolmowatch/internal/provider"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")

	// ErrNotFound indicates no row exists for the requested date.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvariantMismatch indicates a compute record whose stored
	// invariant does not equal the product of its stored rates. This is
	// a pipeline bug, never bad market data, and the row must not be
	// written or trusted.
	ErrInvariantMismatch = errors.New("storage: invariant mismatch")
)

const (
	insertSnapshotSQL = `INSERT INTO raw_snapshots (
        date,
        snapshot_id,
        provider,
        quotes,
        sources
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (date) DO NOTHING;`

	getSnapshotSQL = `SELECT
        date,
        snapshot_id,
        provider,
        quotes,
        sources,
        created_at
    FROM raw_snapshots
    WHERE date = $1;`

	upsertComputeRecordSQL = `INSERT INTO compute_records (
        date,
        snapshot_id,
        r_me4u, r_iou2, r_uome,
        kolmo_value, deviation_pct, state,
        dist_me4u, dist_iou2, dist_uome,
        vol_me4u, vol_iou2, vol_uome,
        relpath_me4u, relpath_iou2, relpath_uome,
        max_relpath, tied_coins, rule, winner
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
    )
    ON CONFLICT (date) DO UPDATE
    SET snapshot_id   = EXCLUDED.snapshot_id,
        r_me4u        = EXCLUDED.r_me4u,
        r_iou2        = EXCLUDED.r_iou2,
        r_uome        = EXCLUDED.r_uome,
        kolmo_value   = EXCLUDED.kolmo_value,
        deviation_pct = EXCLUDED.deviation_pct,
        state         = EXCLUDED.state,
        dist_me4u     = EXCLUDED.dist_me4u,
        dist_iou2     = EXCLUDED.dist_iou2,
        dist_uome     = EXCLUDED.dist_uome,
        vol_me4u      = EXCLUDED.vol_me4u,
        vol_iou2      = EXCLUDED.vol_iou2,
        vol_uome      = EXCLUDED.vol_uome,
        relpath_me4u  = EXCLUDED.relpath_me4u,
        relpath_iou2  = EXCLUDED.relpath_iou2,
        relpath_uome  = EXCLUDED.relpath_uome,
        max_relpath   = EXCLUDED.max_relpath,
        tied_coins    = EXCLUDED.tied_coins,
        rule          = EXCLUDED.rule,
        winner        = EXCLUDED.winner;`

	computeRecordColumns = `date,
        snapshot_id,
        r_me4u, r_iou2, r_uome,
        kolmo_value, deviation_pct, state,
        dist_me4u, dist_iou2, dist_uome,
        vol_me4u, vol_iou2, vol_uome,
        relpath_me4u, relpath_iou2, relpath_uome,
        max_relpath, tied_coins, rule, winner,
        created_at`

	getComputeRecordSQL = `SELECT ` + computeRecordColumns + `
    FROM compute_records
    WHERE date = $1;`

	latestComputeRecordBeforeSQL = `SELECT ` + computeRecordColumns + `
    FROM compute_records
    WHERE date < $1
    ORDER BY date DESC
    LIMIT 1;`

	listComputeRecordsBetweenSQL = `SELECT ` + computeRecordColumns + `
    FROM compute_records
    WHERE date >= $1
      AND date <= $2
    ORDER BY date;`

	listRecentComputeRecordsSQL = `SELECT ` + computeRecordColumns + `
    FROM compute_records
    ORDER BY date DESC
    LIMIT $1;`

	countComputeRecordsSQL = `SELECT COUNT(*) FROM compute_records;`

	insertProviderAttemptSQL = `INSERT INTO provider_attempts (
        date,
        provider_name,
        attempt_order,
        success,
        latency_ms,
        error_code,
        error_message
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	listProviderAttemptsSQL = `SELECT
        date,
        provider_name,
        attempt_order,
        success,
        latency_ms,
        error_code,
        error_message
    FROM provider_attempts
    WHERE date = $1
    ORDER BY created_at, attempt_order;`

	upsertRubQuoteSQL = `INSERT INTO rub_quotes (
        date,
        code,
        nominal,
        rate
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (date, code) DO UPDATE
    SET nominal = EXCLUDED.nominal,
        rate    = EXCLUDED.rate;`

	nearestRubDateSQL = `SELECT date
    FROM rub_quotes
    WHERE date <= $1
    ORDER BY date DESC
    LIMIT 1;`

	listRubQuotesSQL = `SELECT code, nominal, rate
    FROM rub_quotes
    WHERE date = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines persistence for raw quote snapshots.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap *kolmo.RawRateSnapshot) error
	GetSnapshot(ctx context.Context, date time.Time) (*kolmo.RawRateSnapshot, error)
}

// ComputeRecordStore defines persistence for daily compute records.
type ComputeRecordStore interface {
	UpsertComputeRecord(ctx context.Context, rec *kolmo.DailyComputeRecord) error
	GetComputeRecord(ctx context.Context, date time.Time) (*kolmo.DailyComputeRecord, error)
	LatestComputeRecordBefore(ctx context.Context, date time.Time) (*kolmo.DailyComputeRecord, error)
	ListComputeRecordsBetween(ctx context.Context, from, to time.Time) ([]*kolmo.DailyComputeRecord, error)
	ListRecentComputeRecords(ctx context.Context, limit int) ([]*kolmo.DailyComputeRecord, error)
	CountComputeRecords(ctx context.Context) (int64, error)
}

// RubQuoteStore defines persistence for the RUB pivot table.
type RubQuoteStore interface {
	UpsertRubQuotes(ctx context.Context, date time.Time, table convert.RubTable) error
	RubQuotesOn(ctx context.Context, date time.Time) (convert.RubTable, time.Time, error)
}

// AttemptStore defines persistence for provider telemetry.
type AttemptStore interface {
	InsertProviderAttempt(ctx context.Context, attempt provider.Attempt) error
	ListProviderAttempts(ctx context.Context, date time.Time) ([]provider.Attempt, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to snapshots, compute records, telemetry and
// the RUB quote table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertSnapshot persists a raw snapshot. Snapshots are append-only: a
// second insert for the same date is a no-op, never an overwrite.
func (s *Store) InsertSnapshot(ctx context.Context, snap *kolmo.RawRateSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	quotes, err := json.Marshal(encodeQuotes(snap.Quotes))
	if err != nil {
		return fmt.Errorf("encode quotes: %w", err)
	}
	sources, err := json.Marshal(snap.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}

	if _, execErr := pool.Exec(ctx, insertSnapshotSQL,
		snap.Date,
		snap.SnapshotID,
		snap.Provider,
		quotes,
		sources,
	); execErr != nil {
		return fmt.Errorf("insert snapshot: %w", execErr)
	}
	return nil
}

// GetSnapshot loads the raw snapshot for a date.
func (s *Store) GetSnapshot(ctx context.Context, date time.Time) (*kolmo.RawRateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		snap      kolmo.RawRateSnapshot
		quotesRaw []byte
		srcRaw    []byte
	)
	row := pool.QueryRow(ctx, getSnapshotSQL, date)
	if scanErr := row.Scan(
		&snap.Date,
		&snap.SnapshotID,
		&snap.Provider,
		&quotesRaw,
		&srcRaw,
		&snap.CreatedAt,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", scanErr)
	}

	var payload map[string]quotePayload
	if err := json.Unmarshal(quotesRaw, &payload); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}
	if snap.Quotes, err = decodeQuotes(payload); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(srcRaw, &snap.Sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	return &snap, nil
}

// UpsertComputeRecord persists a daily record after re-verifying that
// the stored invariant really is the product of the stored rates.
func (s *Store) UpsertComputeRecord(ctx context.Context, rec *kolmo.DailyComputeRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := verifyInvariant(rec); err != nil {
		return err
	}

	tied := make([]string, len(rec.Reason.TiedCoins))
	for i, c := range rec.Reason.TiedCoins {
		tied[i] = string(c)
	}

	if _, execErr := pool.Exec(ctx, upsertComputeRecordSQL,
		rec.Date,
		rec.SnapshotID,
		rec.Rates.ME4U.String(),
		rec.Rates.IOU2.String(),
		rec.Rates.UOME.String(),
		rec.Invariant.Value.String(),
		rec.Invariant.DeviationPct.String(),
		string(rec.Invariant.State),
		rec.Distances.ME4U.String(),
		rec.Distances.IOU2.String(),
		rec.Distances.UOME.String(),
		decPtr(rec.Sequential.VolME4U),
		decPtr(rec.Sequential.VolIOU2),
		decPtr(rec.Sequential.VolUOME),
		decPtr(rec.Sequential.RelpathME4U),
		decPtr(rec.Sequential.RelpathIOU2),
		decPtr(rec.Sequential.RelpathUOME),
		decPtr(rec.Reason.MaxRelpath),
		tied,
		string(rec.Reason.Rule),
		string(rec.Winner),
	); execErr != nil {
		return fmt.Errorf("upsert compute record: %w", execErr)
	}
	return nil
}

// GetComputeRecord loads the record for a date.
func (s *Store) GetComputeRecord(ctx context.Context, date time.Time) (*kolmo.DailyComputeRecord, error) {
	return s.queryOneRecord(ctx, getComputeRecordSQL, date)
}

// LatestComputeRecordBefore loads the most recent record strictly
// before a date, the previous day for sequential metrics.
func (s *Store) LatestComputeRecordBefore(ctx context.Context, date time.Time) (*kolmo.DailyComputeRecord, error) {
	return s.queryOneRecord(ctx, latestComputeRecordBeforeSQL, date)
}

func (s *Store) queryOneRecord(ctx context.Context, query string, arg any) (*kolmo.DailyComputeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, arg)
	if queryErr != nil {
		return nil, fmt.Errorf("query compute record: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return nil, ErrNotFound
	}
	rec, scanErr := scanComputeRecord(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return rec, nil
}

// ListComputeRecordsBetween lists records in a date window, ascending.
func (s *Store) ListComputeRecordsBetween(ctx context.Context, from, to time.Time) ([]*kolmo.DailyComputeRecord, error) {
	return s.queryRecords(ctx, listComputeRecordsBetweenSQL, from, to)
}

// ListRecentComputeRecords lists the newest records, descending by date.
func (s *Store) ListRecentComputeRecords(ctx context.Context, limit int) ([]*kolmo.DailyComputeRecord, error) {
	return s.queryRecords(ctx, listRecentComputeRecordsSQL, limit)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*kolmo.DailyComputeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query compute records: %w", queryErr)
	}
	defer rows.Close()

	records := make([]*kolmo.DailyComputeRecord, 0)
	for rows.Next() {
		rec, scanErr := scanComputeRecord(rows)
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

// CountComputeRecords counts stored records.
func (s *Store) CountComputeRecords(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countComputeRecordsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count compute records: %w", scanErr)
	}
	return count, nil
}

// InsertProviderAttempt persists one telemetry row.
func (s *Store) InsertProviderAttempt(ctx context.Context, attempt provider.Attempt) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var code any
	if attempt.Code != "" {
		code = string(attempt.Code)
	}
	var message any
	if attempt.Message != "" {
		msg := attempt.Message
		if len(msg) > 500 {
			msg = msg[:500]
		}
		message = msg
	}

	if _, execErr := pool.Exec(ctx, insertProviderAttemptSQL,
		attempt.Date,
		attempt.Provider,
		attempt.Order,
		attempt.Success,
		attempt.Latency.Milliseconds(),
		code,
		message,
	); execErr != nil {
		return fmt.Errorf("insert provider attempt: %w", execErr)
	}
	return nil
}

// ListProviderAttempts lists the telemetry rows for a date in call order.
func (s *Store) ListProviderAttempts(ctx context.Context, date time.Time) ([]provider.Attempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listProviderAttemptsSQL, date)
	if queryErr != nil {
		return nil, fmt.Errorf("list provider attempts: %w", queryErr)
	}
	defer rows.Close()

	attempts := make([]provider.Attempt, 0)
	for rows.Next() {
		var (
			a         provider.Attempt
			latencyMS int64
			code      sql.NullString
			message   sql.NullString
		)
		if err := rows.Scan(
			&a.Date,
			&a.Provider,
			&a.Order,
			&a.Success,
			&latencyMS,
			&code,
			&message,
		); err != nil {
			return nil, err
		}
		a.Latency = time.Duration(latencyMS) * time.Millisecond
		if code.Valid {
			a.Code = provider.Code(code.String)
		}
		if message.Valid {
			a.Message = message.String
		}
		attempts = append(attempts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return attempts, nil
}

// UpsertRubQuotes stores one date's RUB pivot table in a single batch.
func (s *Store) UpsertRubQuotes(ctx context.Context, date time.Time, table convert.RubTable) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(table) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, q := range table {
		batch.Queue(upsertRubQuoteSQL, date, q.Code, q.Nominal, q.Rate.String())
	}
	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range table {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("upsert rub quote: %w", execErr)
		}
	}
	return nil
}

// RubQuotesOn loads the RUB table effective for a date: the table of
// that date or, when absent, the nearest earlier one. The second return
// is the date the table was actually published for.
func (s *Store) RubQuotesOn(ctx context.Context, date time.Time) (convert.RubTable, time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, time.Time{}, err
	}

	var effective time.Time
	if scanErr := pool.QueryRow(ctx, nearestRubDateSQL, date).Scan(&effective); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("nearest rub date: %w", scanErr)
	}

	rows, queryErr := pool.Query(ctx, listRubQuotesSQL, effective)
	if queryErr != nil {
		return nil, time.Time{}, fmt.Errorf("list rub quotes: %w", queryErr)
	}
	defer rows.Close()

	table := convert.RubTable{}
	for rows.Next() {
		var (
			q       convert.RubQuote
			rateStr string
		)
		if err := rows.Scan(&q.Code, &q.Nominal, &rateStr); err != nil {
			return nil, time.Time{}, err
		}
		rate, parseErr := decimal.NewFromString(rateStr)
		if parseErr != nil {
			return nil, time.Time{}, fmt.Errorf("parse rub rate %s: %w", q.Code, parseErr)
		}
		q.Rate = rate
		table[q.Code] = q
	}
	if rows.Err() != nil {
		return nil, time.Time{}, rows.Err()
	}
	return table, effective, nil
}

// verifyInvariant recomputes the product of the record's rates and
// rejects the record when it disagrees with the stored invariant.
func verifyInvariant(rec *kolmo.DailyComputeRecord) error {
	product := rec.Rates.ME4U.Mul(rec.Rates.IOU2).Mul(rec.Rates.UOME)
	if !product.Equal(rec.Invariant.Value) {
		return fmt.Errorf("%w: date %s stored %s recomputed %s",
			ErrInvariantMismatch,
			rec.Date.Format("2006-01-02"),
			rec.Invariant.Value, product)
	}
	return nil
}

func decPtr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func scanComputeRecord(rows pgx.Rows) (*kolmo.DailyComputeRecord, error) {
	var (
		rec        kolmo.DailyComputeRecord
		snapshotID uuid.UUID

		me4u, iou2, uome           string
		value, deviation, state    string
		dME4U, dIOU2, dUOME        string
		vME4U, vIOU2, vUOME        sql.NullString
		rpME4U, rpIOU2, rpUOME     sql.NullString
		maxRelpath                 sql.NullString
		tied                       []string
		rule, winner               string
	)

	if err := rows.Scan(
		&rec.Date,
		&snapshotID,
		&me4u, &iou2, &uome,
		&value, &deviation, &state,
		&dME4U, &dIOU2, &dUOME,
		&vME4U, &vIOU2, &vUOME,
		&rpME4U, &rpIOU2, &rpUOME,
		&maxRelpath,
		&tied,
		&rule, &winner,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.SnapshotID = snapshotID

	var err error
	if rec.Rates.ME4U, err = decimal.NewFromString(me4u); err != nil {
		return nil, fmt.Errorf("parse r_me4u: %w", err)
	}
	if rec.Rates.IOU2, err = decimal.NewFromString(iou2); err != nil {
		return nil, fmt.Errorf("parse r_iou2: %w", err)
	}
	if rec.Rates.UOME, err = decimal.NewFromString(uome); err != nil {
		return nil, fmt.Errorf("parse r_uome: %w", err)
	}
	if rec.Invariant.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("parse kolmo_value: %w", err)
	}
	if rec.Invariant.DeviationPct, err = decimal.NewFromString(deviation); err != nil {
		return nil, fmt.Errorf("parse deviation_pct: %w", err)
	}
	rec.Invariant.State = kolmo.State(state)
	if rec.Distances.ME4U, err = decimal.NewFromString(dME4U); err != nil {
		return nil, fmt.Errorf("parse dist_me4u: %w", err)
	}
	if rec.Distances.IOU2, err = decimal.NewFromString(dIOU2); err != nil {
		return nil, fmt.Errorf("parse dist_iou2: %w", err)
	}
	if rec.Distances.UOME, err = decimal.NewFromString(dUOME); err != nil {
		return nil, fmt.Errorf("parse dist_uome: %w", err)
	}

	if rec.Sequential.VolME4U, err = nullDec(vME4U); err != nil {
		return nil, err
	}
	if rec.Sequential.VolIOU2, err = nullDec(vIOU2); err != nil {
		return nil, err
	}
	if rec.Sequential.VolUOME, err = nullDec(vUOME); err != nil {
		return nil, err
	}
	if rec.Sequential.RelpathME4U, err = nullDec(rpME4U); err != nil {
		return nil, err
	}
	if rec.Sequential.RelpathIOU2, err = nullDec(rpIOU2); err != nil {
		return nil, err
	}
	if rec.Sequential.RelpathUOME, err = nullDec(rpUOME); err != nil {
		return nil, err
	}

	rec.Winner = kolmo.Coin(winner)
	rec.Reason = kolmo.WinnerReason{
		RelpathME4U: rec.Sequential.RelpathME4U,
		RelpathIOU2: rec.Sequential.RelpathIOU2,
		RelpathUOME: rec.Sequential.RelpathUOME,
		Rule:        kolmo.SelectionRule(rule),
		Winner:      rec.Winner,
	}
	if rec.Reason.MaxRelpath, err = nullDec(maxRelpath); err != nil {
		return nil, err
	}
	rec.Reason.TiedCoins = make([]kolmo.Coin, len(tied))
	for i, c := range tied {
		rec.Reason.TiedCoins[i] = kolmo.Coin(c)
	}

	// Reject corrupted rows instead of propagating them.
	if err := verifyInvariant(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func nullDec(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, fmt.Errorf("parse nullable decimal: %w", err)
	}
	return &d, nil
}
