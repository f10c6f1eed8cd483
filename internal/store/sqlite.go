package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/royalty-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as INTEGER unix microseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The pool is limited to one connection so writers serialize in-process.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS artists (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	wallet_address TEXT
);

CREATE TABLE IF NOT EXISTS tracks (
	id        TEXT PRIMARY KEY,
	artist_id TEXT NOT NULL REFERENCES artists(id),
	title     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS attribution_results (
	id                TEXT PRIMARY KEY,
	track_id          TEXT NOT NULL REFERENCES tracks(id),
	similarity        REAL NOT NULL,
	percent_influence REAL NOT NULL DEFAULT 0,
	source_file       TEXT NOT NULL DEFAULT '',
	metadata          TEXT NOT NULL DEFAULT '{}',
	created_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id         TEXT PRIMARY KEY,
	partner_id TEXT NOT NULL DEFAULT '',
	model_id   TEXT NOT NULL DEFAULT '',
	track_id   TEXT NOT NULL REFERENCES tracks(id),
	confidence REAL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS royalty_events (
	id               TEXT PRIMARY KEY,
	track_id         TEXT NOT NULL REFERENCES tracks(id),
	result_id        TEXT NOT NULL UNIQUE REFERENCES attribution_results(id),
	usage_log_id     TEXT NOT NULL REFERENCES usage_logs(id),
	event_type       TEXT NOT NULL DEFAULT 'dual_proof_verified',
	similarity       REAL NOT NULL,
	match_confidence REAL NOT NULL,
	payout_weight    REAL NOT NULL,
	amount           REAL NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	verified_at      INTEGER NOT NULL,
	paid_at          INTEGER,
	metadata         TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS payouts (
	id           TEXT PRIMARY KEY,
	artist_id    TEXT NOT NULL REFERENCES artists(id),
	amount_cents INTEGER NOT NULL,
	tx_hash      TEXT,
	demo         INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'pending',
	created_at   INTEGER NOT NULL,
	completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS payout_items (
	id           TEXT PRIMARY KEY,
	payout_id    TEXT NOT NULL REFERENCES payouts(id) ON DELETE CASCADE,
	event_id     TEXT NOT NULL UNIQUE REFERENCES royalty_events(id),
	position     INTEGER NOT NULL,
	amount_cents INTEGER NOT NULL,
	created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tracks_artist_id ON tracks(artist_id);
CREATE INDEX IF NOT EXISTS idx_results_track_created ON attribution_results(track_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_logs_track_created ON usage_logs(track_id, created_at);
CREATE INDEX IF NOT EXISTS idx_royalty_events_usage_log_id ON royalty_events(usage_log_id);
CREATE INDEX IF NOT EXISTS idx_payouts_status_created ON payouts(status, created_at);
CREATE INDEX IF NOT EXISTS idx_payout_items_payout_id ON payout_items(payout_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Ingest ---

func (s *SQLiteStore) UpsertArtist(ctx context.Context, a model.Artist) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artists (id, name, wallet_address) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, wallet_address = excluded.wallet_address`,
		a.ID, a.Name, nullString(a.WalletAddress),
	)
	return eris.Wrapf(err, "sqlite: upsert artist %s", a.ID)
}

func (s *SQLiteStore) UpsertTrack(ctx context.Context, t model.Track) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracks (id, artist_id, title) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET artist_id = excluded.artist_id, title = excluded.title`,
		t.ID, t.ArtistID, t.Title,
	)
	return eris.Wrapf(err, "sqlite: upsert track %s", t.ID)
}

func (s *SQLiteStore) InsertResult(ctx context.Context, r *model.AttributionResult) error {
	if r.ID == "" {
		r.ID = newID()
	}
	meta, err := marshalMeta(r.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attribution_results (id, track_id, similarity, percent_influence, source_file, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		r.ID, r.TrackID, r.Similarity, r.PercentInfluence, r.SourceFile, string(meta), toMicros(r.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert result %s", r.ID)
}

func (s *SQLiteStore) InsertUsageLog(ctx context.Context, l *model.UsageLog) error {
	if l.ID == "" {
		l.ID = newID()
	}
	meta, err := marshalMeta(l.Metadata)
	if err != nil {
		return err
	}
	var confidence sql.NullFloat64
	if l.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *l.Confidence, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (id, partner_id, model_id, track_id, confidence, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		l.ID, l.PartnerID, l.ModelID, l.TrackID, confidence, string(meta), toMicros(l.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert usage log %s", l.ID)
}

// --- Evidence ---

func scanSQLiteResult(row scannable) (*model.AttributionResult, error) {
	var r model.AttributionResult
	var meta string
	var created int64
	if err := row.Scan(&r.ID, &r.TrackID, &r.Similarity, &r.PercentInfluence, &r.SourceFile, &meta, &created); err != nil {
		return nil, err
	}
	m, err := unmarshalMeta([]byte(meta))
	if err != nil {
		return nil, err
	}
	r.Metadata = m
	r.CreatedAt = fromMicros(created)
	return &r, nil
}

func scanSQLiteUsageLog(row scannable) (*model.UsageLog, error) {
	var l model.UsageLog
	var confidence sql.NullFloat64
	var meta string
	var created int64
	if err := row.Scan(&l.ID, &l.PartnerID, &l.ModelID, &l.TrackID, &confidence, &meta, &created); err != nil {
		return nil, err
	}
	m, err := unmarshalMeta([]byte(meta))
	if err != nil {
		return nil, err
	}
	if confidence.Valid {
		c := confidence.Float64
		l.Confidence = &c
	}
	l.Metadata = m
	l.CreatedAt = fromMicros(created)
	return &l, nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*model.AttributionResult, error) {
	r, err := scanSQLiteResult(s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM attribution_results WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get result %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) GetUsageLog(ctx context.Context, id string) (*model.UsageLog, error) {
	l, err := scanSQLiteUsageLog(s.db.QueryRowContext(ctx,
		`SELECT `+usageLogColumns+` FROM usage_logs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get usage log %s", id)
	}
	return l, nil
}

func (s *SQLiteStore) queryResults(ctx context.Context, op, q string, args ...any) ([]model.AttributionResult, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	var out []model.AttributionResult
	for rows.Next() {
		r, err := scanSQLiteResult(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", op)
		}
		out = append(out, *r)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", op)
}

func (s *SQLiteStore) RecentResults(ctx context.Context, minSimilarity float64, since time.Time, limit int) ([]model.AttributionResult, error) {
	return s.queryResults(ctx, "recent results",
		`SELECT `+resultColumns+` FROM attribution_results
		 WHERE similarity >= ? AND created_at >= ?
		 ORDER BY created_at DESC, id LIMIT ?`,
		minSimilarity, toMicros(since), limit,
	)
}

func (s *SQLiteStore) ResultsInWindow(ctx context.Context, trackID string, from, to time.Time, minSimilarity float64) ([]model.AttributionResult, error) {
	return s.queryResults(ctx, "results in window",
		`SELECT `+resultColumns+` FROM attribution_results
		 WHERE track_id = ? AND created_at BETWEEN ? AND ? AND similarity >= ?
		 ORDER BY created_at, id`,
		trackID, toMicros(from), toMicros(to), minSimilarity,
	)
}

func (s *SQLiteStore) UsageLogsInWindow(ctx context.Context, trackID string, from, to time.Time) ([]model.UsageLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+usageLogColumns+` FROM usage_logs
		 WHERE track_id = ? AND created_at BETWEEN ? AND ?
		 ORDER BY created_at, id`,
		trackID, toMicros(from), toMicros(to),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: usage logs in window")
	}
	defer rows.Close()

	var out []model.UsageLog
	for rows.Next() {
		l, err := scanSQLiteUsageLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage log")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate usage logs")
}

// --- Royalty events ---

func scanSQLiteEvent(row scannable) (*model.RoyaltyEvent, error) {
	var e model.RoyaltyEvent
	var status, meta string
	var verified int64
	var paid sql.NullInt64
	if err := row.Scan(&e.ID, &e.TrackID, &e.ResultID, &e.UsageLogID, &e.EventType, &e.Similarity,
		&e.MatchConfidence, &e.PayoutWeight, &e.Amount, &status, &verified, &paid, &meta); err != nil {
		return nil, err
	}
	m, err := unmarshalMeta([]byte(meta))
	if err != nil {
		return nil, err
	}
	e.Status = model.EventStatus(status)
	e.VerifiedAt = fromMicros(verified)
	e.PaidAt = fromNullMicros(paid)
	e.Metadata = m
	return &e, nil
}

func (s *SQLiteStore) InsertRoyaltyEvent(ctx context.Context, ev *model.RoyaltyEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = newID()
	}
	meta, err := marshalMeta(ev.Metadata)
	if err != nil {
		return false, err
	}
	var paid sql.NullInt64
	if ev.PaidAt != nil {
		paid = sql.NullInt64{Int64: toMicros(*ev.PaidAt), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO royalty_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(result_id) DO NOTHING`,
		ev.ID, ev.TrackID, ev.ResultID, ev.UsageLogID, ev.EventType, ev.Similarity, ev.MatchConfidence,
		ev.PayoutWeight, ev.Amount, string(ev.Status), toMicros(ev.VerifiedAt), paid, string(meta),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert royalty event for result %s", ev.ResultID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) EventExistsForResult(ctx context.Context, resultID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM royalty_events WHERE result_id = ?)`, resultID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: event exists for result %s", resultID)
	}
	return exists, nil
}

func (s *SQLiteStore) getEvent(ctx context.Context, op, where, arg string) (*model.RoyaltyEvent, error) {
	e, err := scanSQLiteEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM royalty_events WHERE `+where+` ORDER BY verified_at, id LIMIT 1`, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: %s %s", op, arg)
	}
	return e, nil
}

func (s *SQLiteStore) EventByResult(ctx context.Context, resultID string) (*model.RoyaltyEvent, error) {
	return s.getEvent(ctx, "event by result", "result_id = ?", resultID)
}

func (s *SQLiteStore) EventByUsageLog(ctx context.Context, usageLogID string) (*model.RoyaltyEvent, error) {
	return s.getEvent(ctx, "event by usage log", "usage_log_id = ?", usageLogID)
}

func (s *SQLiteStore) CountEvents(ctx context.Context, filter EventFilter) (int, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.VerifiedAfter.IsZero() {
		where = append(where, "verified_at >= ?")
		args = append(args, toMicros(filter.VerifiedAfter))
	}
	q := `SELECT count(*) FROM royalty_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count events")
	}
	return n, nil
}

// --- Settlement ---

const sqliteUnpaidPredicate = `e.status = 'pending' AND e.paid_at IS NULL
	AND NOT EXISTS (SELECT 1 FROM payout_items pi WHERE pi.event_id = e.id)`

func (s *SQLiteStore) ListUnpaidEvents(ctx context.Context, artistID string) ([]model.UnpaidEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.track_id, t.title, e.amount, e.similarity, e.verified_at, e.metadata
		 FROM royalty_events e
		 JOIN tracks t ON t.id = e.track_id
		 WHERE t.artist_id = ? AND `+sqliteUnpaidPredicate+`
		 ORDER BY e.verified_at, e.id`,
		artistID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list unpaid events for %s", artistID)
	}
	defer rows.Close()

	var out []model.UnpaidEvent
	for rows.Next() {
		var e model.UnpaidEvent
		var verified int64
		var meta string
		if err := rows.Scan(&e.EventID, &e.TrackID, &e.TrackTitle, &e.Amount, &e.Similarity, &verified, &meta); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unpaid event")
		}
		if e.Metadata, err = unmarshalMeta([]byte(meta)); err != nil {
			return nil, err
		}
		e.AmountCents = model.ToCents(e.Amount)
		e.VerifiedAt = fromMicros(verified)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate unpaid events")
}

func (s *SQLiteStore) ReservePayout(ctx context.Context, payoutID, artistID string, eventIDs []string) (*model.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin reserve")
	}
	defer tx.Rollback() //nolint:errcheck

	args := make([]any, 0, len(eventIDs)+1)
	for _, id := range eventIDs {
		args = append(args, id)
	}
	args = append(args, artistID)

	rows, err := tx.QueryContext(ctx,
		`SELECT e.id, e.amount
		 FROM royalty_events e
		 JOIN tracks t ON t.id = e.track_id
		 WHERE e.id IN (`+placeholders(len(eventIDs))+`) AND t.artist_id = ? AND `+sqliteUnpaidPredicate,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select reservable events")
	}
	amounts := make(map[string]float64, len(eventIDs))
	for rows.Next() {
		var id string
		var amount float64
		if err := rows.Scan(&id, &amount); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan reservable event")
		}
		amounts[id] = amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate reservable events")
	}
	if len(amounts) != len(eventIDs) {
		return nil, model.ErrIneligibleEvents
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	items, total := orderItems(payoutID, eventIDs, amounts, now)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO payouts (id, artist_id, amount_cents, demo, status, created_at) VALUES (?, ?, ?, 0, ?, ?)`,
		payoutID, artistID, total, string(model.PayoutStatusPending), toMicros(now),
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert payout %s", payoutID)
	}
	for i, it := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO payout_items (id, payout_id, event_id, position, amount_cents, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			it.ID, it.PayoutID, it.EventID, i, it.AmountCents, toMicros(it.CreatedAt),
		); err != nil {
			if isSQLiteUniqueViolation(err) {
				return nil, eris.Wrap(model.ErrIneligibleEvents, "sqlite: event already reserved")
			}
			return nil, eris.Wrapf(err, "sqlite: insert payout item %s", it.EventID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit reserve")
	}
	return &model.Reservation{
		Payout: model.Payout{
			ID:          payoutID,
			ArtistID:    artistID,
			AmountCents: total,
			Status:      model.PayoutStatusPending,
			CreatedAt:   now,
		},
		Items: items,
	}, nil
}

func (s *SQLiteStore) ArtistWallet(ctx context.Context, artistID string) (*string, error) {
	var wallet sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT wallet_address FROM artists WHERE id = ?`, artistID).Scan(&wallet)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: artist wallet %s", artistID)
	}
	if !wallet.Valid {
		return nil, nil
	}
	return &wallet.String, nil
}

func (s *SQLiteStore) CompletePayout(ctx context.Context, payoutID, txHash string, demo bool, eventIDs []string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin complete")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE payouts SET status = ?, tx_hash = ?, demo = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.PayoutStatusCompleted), txHash, demo, toMicros(at), payoutID, string(model.PayoutStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete payout %s", payoutID)
	}
	if err := checkRowsAffected(res, "pending payout", payoutID); err != nil {
		return eris.Wrap(model.ErrSettlementConflict, err.Error())
	}

	args := []any{string(model.EventStatusPaid), toMicros(at)}
	for _, id := range eventIDs {
		args = append(args, id)
	}
	args = append(args, string(model.EventStatusPending))
	res, err = tx.ExecContext(ctx,
		`UPDATE royalty_events SET status = ?, paid_at = ?
		 WHERE id IN (`+placeholders(len(eventIDs))+`) AND status = ? AND paid_at IS NULL`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark events paid for payout %s", payoutID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n != int64(len(eventIDs)) {
		return eris.Wrapf(model.ErrSettlementConflict, "sqlite: payout %s marked %d of %d events", payoutID, n, len(eventIDs))
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit complete")
}

func (s *SQLiteStore) ReleasePayout(ctx context.Context, payoutID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin release")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM payout_items
		 WHERE payout_id IN (SELECT id FROM payouts WHERE id = ? AND status = ?)`,
		payoutID, string(model.PayoutStatusPending)); err != nil {
		return eris.Wrapf(err, "sqlite: delete payout items %s", payoutID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM payouts WHERE id = ? AND status = ?`,
		payoutID, string(model.PayoutStatusPending)); err != nil {
		return eris.Wrapf(err, "sqlite: delete payout %s", payoutID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit release")
}

func scanSQLitePayout(row scannable) (*model.Payout, error) {
	var p model.Payout
	var txHash sql.NullString
	var status string
	var created int64
	var completed sql.NullInt64
	if err := row.Scan(&p.ID, &p.ArtistID, &p.AmountCents, &txHash, &p.Demo, &status, &created, &completed); err != nil {
		return nil, err
	}
	p.TxHash = txHash.String
	p.Status = model.PayoutStatus(status)
	p.CreatedAt = fromMicros(created)
	p.CompletedAt = fromNullMicros(completed)
	return &p, nil
}

func (s *SQLiteStore) GetPayout(ctx context.Context, payoutID string) (*model.Payout, error) {
	p, err := scanSQLitePayout(s.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = ?`, payoutID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get payout %s", payoutID)
	}
	return p, nil
}

func (s *SQLiteStore) ListPayoutItems(ctx context.Context, payoutID string) ([]model.PayoutItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payout_id, event_id, amount_cents, created_at FROM payout_items
		 WHERE payout_id = ? ORDER BY position`,
		payoutID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list payout items %s", payoutID)
	}
	defer rows.Close()

	var out []model.PayoutItem
	for rows.Next() {
		var it model.PayoutItem
		var created int64
		if err := rows.Scan(&it.ID, &it.PayoutID, &it.EventID, &it.AmountCents, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan payout item")
		}
		it.CreatedAt = fromMicros(created)
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate payout items")
}

func (s *SQLiteStore) ListPayouts(ctx context.Context, filter PayoutFilter) ([]model.Payout, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ArtistID != "" {
		where = append(where, "artist_id = ?")
		args = append(args, filter.ArtistID)
	}
	if !filter.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMicros(filter.CreatedAfter))
	}
	if !filter.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, toMicros(filter.CreatedBefore))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := `SELECT ` + payoutColumns + ` FROM payouts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list payouts")
	}
	defer rows.Close()

	var out []model.Payout
	for rows.Next() {
		p, err := scanSQLitePayout(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan payout")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate payouts")
}

// ArtistPayouts returns one page of an artist's payouts, newest first, and
// the artist's total payout count.
func (s *SQLiteStore) ArtistPayouts(ctx context.Context, artistID string, limit, offset int) ([]model.PayoutSummary, int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.artist_id, p.amount_cents, p.tx_hash, p.demo, p.status, p.created_at, p.completed_at,
		        (SELECT COUNT(*) FROM payout_items pi WHERE pi.payout_id = p.id)
		 FROM payouts p
		 WHERE p.artist_id = ?
		 ORDER BY p.created_at DESC, p.id
		 LIMIT ? OFFSET ?`,
		artistID, limit, offset,
	)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "sqlite: artist payouts %s", artistID)
	}
	defer rows.Close()

	var out []model.PayoutSummary
	for rows.Next() {
		var ps model.PayoutSummary
		var txHash sql.NullString
		var status string
		var created int64
		var completed sql.NullInt64
		if err := rows.Scan(&ps.ID, &ps.ArtistID, &ps.AmountCents, &txHash, &ps.Demo, &status, &created, &completed, &ps.ItemCount); err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan artist payout")
		}
		ps.TxHash = txHash.String
		ps.Status = model.PayoutStatus(status)
		ps.CreatedAt = fromMicros(created)
		ps.CompletedAt = fromNullMicros(completed)
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: iterate artist payouts")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payouts WHERE artist_id = ?`, artistID).Scan(&total); err != nil {
		return nil, 0, eris.Wrapf(err, "sqlite: count artist payouts %s", artistID)
	}
	return out, total, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
