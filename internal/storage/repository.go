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
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `
CREATE TABLE IF NOT EXISTS price_samples (
    bucket_ts      TIMESTAMPTZ PRIMARY KEY,
    price          NUMERIC(12,2) NOT NULL,
    previous_price NUMERIC(12,2) NOT NULL,
    change_pct     NUMERIC(12,6) NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alerts (
    id              BIGSERIAL PRIMARY KEY,
    sample_ts       TIMESTAMPTZ NOT NULL UNIQUE,
    price           NUMERIC(12,2) NOT NULL,
    reference_ts    TIMESTAMPTZ NOT NULL,
    reference_price NUMERIC(12,2) NOT NULL,
    change_pct      NUMERIC(12,6) NOT NULL,
    threshold_pct   NUMERIC(12,6) NOT NULL,
    direction       TEXT NOT NULL,
    channels        TEXT[] NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
    tx_id         TEXT PRIMARY KEY,
    owner         TEXT NOT NULL,
    kind          TEXT NOT NULL,
    executed_at   TIMESTAMPTZ NOT NULL,
    fiat_amount   NUMERIC(30,18) NOT NULL DEFAULT 0,
    coin_amount   NUMERIC(30,18) NOT NULL DEFAULT 0,
    unit_price    NUMERIC(12,2) NOT NULL DEFAULT 0,
    source_asset  TEXT NOT NULL DEFAULT '',
    source_amount NUMERIC(30,18) NOT NULL DEFAULT 0,
    target_asset  TEXT NOT NULL DEFAULT '',
    target_amount NUMERIC(30,18) NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS ledger_transactions_owner_idx
    ON ledger_transactions (owner, executed_at DESC);`

	upsertPriceSampleSQL = `INSERT INTO price_samples (
        bucket_ts,
        price,
        previous_price,
        change_pct
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        price          = EXCLUDED.price,
        previous_price = EXCLUDED.previous_price,
        change_pct     = EXCLUDED.change_pct;`

	selectSampleColumns = `SELECT
        bucket_ts,
        price::text,
        previous_price::text,
        change_pct::text,
        created_at
    FROM price_samples`

	listSamplesBetweenSQL = selectSampleColumns + `
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = selectSampleColumns + `
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	sampleAtOrBeforeSQL = selectSampleColumns + `
    WHERE bucket_ts <= $1
    ORDER BY bucket_ts DESC
    LIMIT 1;`

	countSamplesSQL = `SELECT COUNT(*) FROM price_samples;`

	deleteSamplesBeforeSQL = `DELETE FROM price_samples WHERE bucket_ts < $1;`

	insertAlertSQL = `INSERT INTO alerts (
        sample_ts,
        price,
        reference_ts,
        reference_price,
        change_pct,
        threshold_pct,
        direction,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (sample_ts) DO UPDATE
    SET price           = EXCLUDED.price,
        reference_ts    = EXCLUDED.reference_ts,
        reference_price = EXCLUDED.reference_price,
        change_pct      = EXCLUDED.change_pct,
        threshold_pct   = EXCLUDED.threshold_pct,
        direction       = EXCLUDED.direction,
        channels        = EXCLUDED.channels
    RETURNING ` + alertColumns + `;`

	alertColumns = `id, sample_ts, price::text, reference_ts, reference_price::text,
        change_pct::text, threshold_pct::text, direction, channels, created_at`

	listRecentAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	lastAlertSQL = `SELECT ` + alertColumns + `
    FROM alerts
    ORDER BY sample_ts DESC
    LIMIT 1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	insertLedgerEntrySQL = `INSERT INTO ledger_transactions (
        tx_id,
        owner,
        kind,
        executed_at,
        fiat_amount,
        coin_amount,
        unit_price,
        source_asset,
        source_amount,
        target_asset,
        target_amount
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (tx_id) DO NOTHING;`

	listLedgerEntriesSQL = `SELECT
        tx_id,
        owner,
        kind,
        executed_at,
        fiat_amount::text,
        coin_amount::text,
        unit_price::text,
        source_asset,
        source_amount::text,
        target_asset,
        target_amount::text,
        created_at
    FROM ledger_transactions
    WHERE owner = $1
    ORDER BY executed_at DESC
    LIMIT $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceSampleStore defines operations for price sample persistence.
type PriceSampleStore interface {
	UpsertPriceSample(ctx context.Context, sample PriceSample) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PriceSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error)
	SampleAtOrBefore(ctx context.Context, ts time.Time) (PriceSample, bool, error)
	CountSamples(ctx context.Context) (int64, error)
	DeleteSamplesBefore(ctx context.Context, olderThan time.Time) error
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	LastAlert(ctx context.Context) (AlertRecord, bool, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// LedgerArchive keeps an append-only copy of ledger transactions.
type LedgerArchive interface {
	ArchiveTransaction(ctx context.Context, entry LedgerEntry) error
	ListLedgerEntries(ctx context.Context, owner string, limit int) ([]LedgerEntry, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to price samples, alerts and the ledger archive.
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

// EnsureSchema creates the archive tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
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
		// a failed unlock is released with the session when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
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

// UpsertPriceSample persists or updates a price sample.
func (s *Store) UpsertPriceSample(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertPriceSampleSQL,
		sample.Bucket,
		sample.Price.String(),
		sample.PreviousPrice.String(),
		sample.ChangePct.Round(6).String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert price sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples ordered by descending bucket.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// SampleAtOrBefore returns the newest sample not after ts.
func (s *Store) SampleAtOrBefore(ctx context.Context, ts time.Time) (PriceSample, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceSample{}, false, err
	}
	rows, queryErr := pool.Query(ctx, sampleAtOrBeforeSQL, ts)
	if queryErr != nil {
		return PriceSample{}, false, fmt.Errorf("sample at or before: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		return PriceSample{}, false, rows.Err()
	}
	sample, scanErr := scanPriceSample(rows)
	if scanErr != nil {
		return PriceSample{}, false, scanErr
	}
	return sample, true, nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// DeleteSamplesBefore prunes samples older than the retention window.
func (s *Store) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSamplesBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete samples before: %w", execErr)
	}
	return nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.SampleTS,
		alert.Price.String(),
		alert.ReferenceTS,
		alert.Reference.String(),
		alert.ChangePct.Round(6).String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// LastAlert returns the most recent alert, if any.
func (s *Store) LastAlert(ctx context.Context) (AlertRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, false, err
	}
	rec, scanErr := scanAlert(pool.QueryRow(ctx, lastAlertSQL))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return AlertRecord{}, false, nil
	}
	if scanErr != nil {
		return AlertRecord{}, false, fmt.Errorf("last alert: %w", scanErr)
	}
	return rec, true, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// ArchiveTransaction stores a ledger transaction once; replays are ignored.
func (s *Store) ArchiveTransaction(ctx context.Context, entry LedgerEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertLedgerEntrySQL,
		entry.TxID,
		entry.Owner,
		entry.Kind,
		entry.ExecutedAt,
		entry.FiatAmount.String(),
		entry.CoinAmount.String(),
		entry.UnitPrice.String(),
		entry.SourceAsset,
		entry.SourceAmount.String(),
		entry.TargetAsset,
		entry.TargetAmount.String(),
	)
	if execErr != nil {
		return fmt.Errorf("archive transaction %s: %w", entry.TxID, execErr)
	}
	return nil
}

// ListLedgerEntries lists archived transactions of owner, newest first.
func (s *Store) ListLedgerEntries(ctx context.Context, owner string, limit int) ([]LedgerEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listLedgerEntriesSQL, owner, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list ledger entries: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]LedgerEntry, 0, limit)
	for rows.Next() {
		var e LedgerEntry
		var fiat, coin, price, srcAmt, dstAmt string
		if err := rows.Scan(
			&e.TxID,
			&e.Owner,
			&e.Kind,
			&e.ExecutedAt,
			&fiat,
			&coin,
			&price,
			&e.SourceAsset,
			&srcAmt,
			&e.TargetAsset,
			&dstAmt,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		values, err := parseDecimals(fiat, coin, price, srcAmt, dstAmt)
		if err != nil {
			return nil, fmt.Errorf("parse ledger entry %s: %w", e.TxID, err)
		}
		e.FiatAmount, e.CoinAmount, e.UnitPrice, e.SourceAmount, e.TargetAmount = values[0], values[1], values[2], values[3], values[4]
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		bucket    time.Time
		priceStr  string
		prevStr   string
		changeStr string
		createdAt time.Time
	)

	if err := rows.Scan(
		&bucket,
		&priceStr,
		&prevStr,
		&changeStr,
		&createdAt,
	); err != nil {
		return PriceSample{}, err
	}

	values, err := parseDecimals(priceStr, prevStr, changeStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price sample: %w", err)
	}

	return PriceSample{
		Bucket:        bucket,
		Price:         values[0],
		PreviousPrice: values[1],
		ChangePct:     values[2],
		CreatedAt:     createdAt,
	}, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var rec AlertRecord
	var price, ref, change, threshold string
	if err := row.Scan(
		&rec.ID,
		&rec.SampleTS,
		&price,
		&rec.ReferenceTS,
		&ref,
		&change,
		&threshold,
		&rec.Direction,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}
	values, err := parseDecimals(price, ref, change, threshold)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse alert: %w", err)
	}
	rec.Price, rec.Reference, rec.ChangePct, rec.ThresholdPct = values[0], values[1], values[2], values[3]
	return rec, nil
}

func parseDecimals(raw ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(raw))
	for i, r := range raw {
		v, err := decimal.NewFromString(r)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", r, err)
		}
		out[i] = v
	}
	return out, nil
}
