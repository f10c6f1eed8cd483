package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/royalty-engine/internal/db"
	"github.com/sells-group/royalty-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership of it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS artists (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	wallet_address TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tracks (
	id         TEXT PRIMARY KEY,
	artist_id  TEXT NOT NULL REFERENCES artists(id),
	title      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS attribution_results (
	id                TEXT PRIMARY KEY,
	track_id          TEXT NOT NULL REFERENCES tracks(id),
	similarity        DOUBLE PRECISION NOT NULL CHECK (similarity >= 0 AND similarity <= 1),
	percent_influence DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_file       TEXT NOT NULL DEFAULT '',
	metadata          JSONB NOT NULL DEFAULT '{}',
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id         TEXT PRIMARY KEY,
	partner_id TEXT NOT NULL DEFAULT '',
	model_id   TEXT NOT NULL DEFAULT '',
	track_id   TEXT NOT NULL REFERENCES tracks(id),
	confidence DOUBLE PRECISION,
	metadata   JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS royalty_events (
	id               TEXT PRIMARY KEY,
	track_id         TEXT NOT NULL REFERENCES tracks(id),
	result_id        TEXT NOT NULL UNIQUE REFERENCES attribution_results(id),
	usage_log_id     TEXT NOT NULL REFERENCES usage_logs(id),
	event_type       TEXT NOT NULL DEFAULT 'dual_proof_verified',
	similarity       DOUBLE PRECISION NOT NULL,
	match_confidence DOUBLE PRECISION NOT NULL,
	payout_weight    DOUBLE PRECISION NOT NULL CHECK (payout_weight >= 0 AND payout_weight <= 1),
	amount           DOUBLE PRECISION NOT NULL CHECK (amount >= 0),
	status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'paid', 'disputed')),
	verified_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	paid_at          TIMESTAMPTZ,
	metadata         JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS payouts (
	id           TEXT PRIMARY KEY,
	artist_id    TEXT NOT NULL REFERENCES artists(id),
	amount_cents BIGINT NOT NULL CHECK (amount_cents >= 0),
	tx_hash      TEXT,
	demo         BOOLEAN NOT NULL DEFAULT false,
	status       TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed')),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS payout_items (
	id           TEXT PRIMARY KEY,
	payout_id    TEXT NOT NULL REFERENCES payouts(id) ON DELETE CASCADE,
	event_id     TEXT NOT NULL UNIQUE REFERENCES royalty_events(id),
	position     INTEGER NOT NULL,
	amount_cents BIGINT NOT NULL CHECK (amount_cents >= 0),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tracks_artist_id ON tracks(artist_id);
CREATE INDEX IF NOT EXISTS idx_results_track_created ON attribution_results(track_id, created_at);
CREATE INDEX IF NOT EXISTS idx_results_created_at ON attribution_results(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_usage_logs_track_created ON usage_logs(track_id, created_at);
CREATE INDEX IF NOT EXISTS idx_royalty_events_usage_log_id ON royalty_events(usage_log_id);
CREATE INDEX IF NOT EXISTS idx_royalty_events_track_status ON royalty_events(track_id, status);
CREATE INDEX IF NOT EXISTS idx_payouts_artist_id ON payouts(artist_id);
CREATE INDEX IF NOT EXISTS idx_payouts_status_created ON payouts(status, created_at);
CREATE INDEX IF NOT EXISTS idx_payout_items_payout_id ON payout_items(payout_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Ingest ---

func (s *PostgresStore) UpsertArtist(ctx context.Context, a model.Artist) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artists (id, name, wallet_address) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, wallet_address = EXCLUDED.wallet_address`,
		a.ID, a.Name, a.WalletAddress,
	)
	return eris.Wrapf(err, "postgres: upsert artist %s", a.ID)
}

func (s *PostgresStore) UpsertTrack(ctx context.Context, t model.Track) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tracks (id, artist_id, title) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET artist_id = EXCLUDED.artist_id, title = EXCLUDED.title`,
		t.ID, t.ArtistID, t.Title,
	)
	return eris.Wrapf(err, "postgres: upsert track %s", t.ID)
}

func (s *PostgresStore) InsertResult(ctx context.Context, r *model.AttributionResult) error {
	if r.ID == "" {
		r.ID = newID()
	}
	meta, err := marshalMeta(r.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attribution_results (id, track_id, similarity, percent_influence, source_file, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		r.ID, r.TrackID, r.Similarity, r.PercentInfluence, r.SourceFile, meta, r.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert result %s", r.ID)
}

func (s *PostgresStore) InsertUsageLog(ctx context.Context, l *model.UsageLog) error {
	if l.ID == "" {
		l.ID = newID()
	}
	meta, err := marshalMeta(l.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO usage_logs (id, partner_id, model_id, track_id, confidence, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		l.ID, l.PartnerID, l.ModelID, l.TrackID, l.Confidence, meta, l.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert usage log %s", l.ID)
}

// --- Evidence ---

const resultColumns = `id, track_id, similarity, percent_influence, source_file, metadata, created_at`

func scanResult(row pgx.Row) (*model.AttributionResult, error) {
	var r model.AttributionResult
	var meta []byte
	if err := row.Scan(&r.ID, &r.TrackID, &r.Similarity, &r.PercentInfluence, &r.SourceFile, &meta, &r.CreatedAt); err != nil {
		return nil, err
	}
	m, err := unmarshalMeta(meta)
	if err != nil {
		return nil, err
	}
	r.Metadata = m
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

const usageLogColumns = `id, partner_id, model_id, track_id, confidence, metadata, created_at`

func scanUsageLog(row pgx.Row) (*model.UsageLog, error) {
	var l model.UsageLog
	var meta []byte
	if err := row.Scan(&l.ID, &l.PartnerID, &l.ModelID, &l.TrackID, &l.Confidence, &meta, &l.CreatedAt); err != nil {
		return nil, err
	}
	m, err := unmarshalMeta(meta)
	if err != nil {
		return nil, err
	}
	l.Metadata = m
	l.CreatedAt = l.CreatedAt.UTC()
	return &l, nil
}

func (s *PostgresStore) GetResult(ctx context.Context, id string) (*model.AttributionResult, error) {
	r, err := scanResult(s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM attribution_results WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get result %s", id)
	}
	return r, nil
}

func (s *PostgresStore) GetUsageLog(ctx context.Context, id string) (*model.UsageLog, error) {
	l, err := scanUsageLog(s.pool.QueryRow(ctx,
		`SELECT `+usageLogColumns+` FROM usage_logs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get usage log %s", id)
	}
	return l, nil
}

func (s *PostgresStore) queryResults(ctx context.Context, op, sql string, args ...any) ([]model.AttributionResult, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.AttributionResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", op)
		}
		out = append(out, *r)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", op)
}

func (s *PostgresStore) RecentResults(ctx context.Context, minSimilarity float64, since time.Time, limit int) ([]model.AttributionResult, error) {
	return s.queryResults(ctx, "recent results",
		`SELECT `+resultColumns+` FROM attribution_results
		 WHERE similarity >= $1 AND created_at >= $2
		 ORDER BY created_at DESC, id LIMIT $3`,
		minSimilarity, since.UTC(), limit,
	)
}

func (s *PostgresStore) ResultsInWindow(ctx context.Context, trackID string, from, to time.Time, minSimilarity float64) ([]model.AttributionResult, error) {
	return s.queryResults(ctx, "results in window",
		`SELECT `+resultColumns+` FROM attribution_results
		 WHERE track_id = $1 AND created_at BETWEEN $2 AND $3 AND similarity >= $4
		 ORDER BY created_at, id`,
		trackID, from.UTC(), to.UTC(), minSimilarity,
	)
}

func (s *PostgresStore) UsageLogsInWindow(ctx context.Context, trackID string, from, to time.Time) ([]model.UsageLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+usageLogColumns+` FROM usage_logs
		 WHERE track_id = $1 AND created_at BETWEEN $2 AND $3
		 ORDER BY created_at, id`,
		trackID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: usage logs in window")
	}
	defer rows.Close()

	var out []model.UsageLog
	for rows.Next() {
		l, err := scanUsageLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage log")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate usage logs")
}

// --- Royalty events ---

const eventColumns = `id, track_id, result_id, usage_log_id, event_type, similarity, match_confidence,
	payout_weight, amount, status, verified_at, paid_at, metadata`

func scanEvent(row pgx.Row) (*model.RoyaltyEvent, error) {
	var e model.RoyaltyEvent
	var status string
	var meta []byte
	if err := row.Scan(&e.ID, &e.TrackID, &e.ResultID, &e.UsageLogID, &e.EventType, &e.Similarity,
		&e.MatchConfidence, &e.PayoutWeight, &e.Amount, &status, &e.VerifiedAt, &e.PaidAt, &meta); err != nil {
		return nil, err
	}
	m, err := unmarshalMeta(meta)
	if err != nil {
		return nil, err
	}
	e.Status = model.EventStatus(status)
	e.Metadata = m
	e.VerifiedAt = e.VerifiedAt.UTC()
	return &e, nil
}

// InsertRoyaltyEvent inserts ev unless an event already exists for its
// result. The unique result_id constraint decides concurrent races.
func (s *PostgresStore) InsertRoyaltyEvent(ctx context.Context, ev *model.RoyaltyEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = newID()
	}
	meta, err := marshalMeta(ev.Metadata)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO royalty_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (result_id) DO NOTHING`,
		ev.ID, ev.TrackID, ev.ResultID, ev.UsageLogID, ev.EventType, ev.Similarity, ev.MatchConfidence,
		ev.PayoutWeight, ev.Amount, string(ev.Status), ev.VerifiedAt.UTC(), ev.PaidAt, meta,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert royalty event for result %s", ev.ResultID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) EventExistsForResult(ctx context.Context, resultID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM royalty_events WHERE result_id = $1)`, resultID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: event exists for result %s", resultID)
	}
	return exists, nil
}

func (s *PostgresStore) getEvent(ctx context.Context, op, where, arg string) (*model.RoyaltyEvent, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM royalty_events WHERE `+where+` ORDER BY verified_at, id LIMIT 1`, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: %s %s", op, arg)
	}
	return e, nil
}

func (s *PostgresStore) EventByResult(ctx context.Context, resultID string) (*model.RoyaltyEvent, error) {
	return s.getEvent(ctx, "event by result", "result_id = $1", resultID)
}

func (s *PostgresStore) EventByUsageLog(ctx context.Context, usageLogID string) (*model.RoyaltyEvent, error) {
	return s.getEvent(ctx, "event by usage log", "usage_log_id = $1", usageLogID)
}

func (s *PostgresStore) CountEvents(ctx context.Context, filter EventFilter) (int, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.VerifiedAfter.IsZero() {
		args = append(args, filter.VerifiedAfter.UTC())
		where = append(where, fmt.Sprintf("verified_at >= $%d", len(args)))
	}
	q := `SELECT count(*) FROM royalty_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	var n int
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count events")
	}
	return n, nil
}

// --- Settlement ---

func (s *PostgresStore) ListUnpaidEvents(ctx context.Context, artistID string) ([]model.UnpaidEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.track_id, t.title, e.amount, e.similarity, e.verified_at, e.metadata
		 FROM royalty_events e
		 JOIN tracks t ON t.id = e.track_id
		 WHERE t.artist_id = $1
		   AND e.status = 'pending' AND e.paid_at IS NULL
		   AND NOT EXISTS (SELECT 1 FROM payout_items pi WHERE pi.event_id = e.id)
		 ORDER BY e.verified_at, e.id`,
		artistID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list unpaid events for %s", artistID)
	}
	defer rows.Close()

	var out []model.UnpaidEvent
	for rows.Next() {
		var e model.UnpaidEvent
		var meta []byte
		if err := rows.Scan(&e.EventID, &e.TrackID, &e.TrackTitle, &e.Amount, &e.Similarity, &e.VerifiedAt, &meta); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unpaid event")
		}
		if e.Metadata, err = unmarshalMeta(meta); err != nil {
			return nil, err
		}
		e.AmountCents = model.ToCents(e.Amount)
		e.VerifiedAt = e.VerifiedAt.UTC()
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate unpaid events")
}

// ReservePayout locks the requested events and writes a pending payout and
// its items in one transaction.
func (s *PostgresStore) ReservePayout(ctx context.Context, payoutID, artistID string, eventIDs []string) (*model.Reservation, error) {
	var res *model.Reservation
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT e.id, e.amount
			 FROM royalty_events e
			 JOIN tracks t ON t.id = e.track_id
			 WHERE e.id = ANY($1) AND t.artist_id = $2
			   AND e.status = 'pending' AND e.paid_at IS NULL
			   AND NOT EXISTS (SELECT 1 FROM payout_items pi WHERE pi.event_id = e.id)
			 ORDER BY e.id
			 FOR UPDATE OF e`,
			eventIDs, artistID,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: lock events")
		}
		amounts := make(map[string]float64, len(eventIDs))
		for rows.Next() {
			var id string
			var amount float64
			if err := rows.Scan(&id, &amount); err != nil {
				rows.Close()
				return eris.Wrap(err, "postgres: scan locked event")
			}
			amounts[id] = amount
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "postgres: iterate locked events")
		}
		if len(amounts) != len(eventIDs) {
			return model.ErrIneligibleEvents
		}

		now := time.Now().UTC()
		items, total := orderItems(payoutID, eventIDs, amounts, now)

		if _, err := tx.Exec(ctx,
			`INSERT INTO payouts (id, artist_id, amount_cents, demo, status, created_at)
			 VALUES ($1, $2, $3, false, $4, $5)`,
			payoutID, artistID, total, string(model.PayoutStatusPending), now,
		); err != nil {
			return eris.Wrap(err, "postgres: insert payout")
		}

		itemRows := make([][]any, len(items))
		for i, it := range items {
			itemRows[i] = []any{it.ID, it.PayoutID, it.EventID, int32(i), it.AmountCents, it.CreatedAt}
		}
		if _, err := db.CopyFrom(ctx, tx, "payout_items",
			[]string{"id", "payout_id", "event_id", "position", "amount_cents", "created_at"}, itemRows); err != nil {
			return err
		}

		res = &model.Reservation{
			Payout: model.Payout{
				ID:          payoutID,
				ArtistID:    artistID,
				AmountCents: total,
				Status:      model.PayoutStatusPending,
				CreatedAt:   now,
			},
			Items: items,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrIneligibleEvents) {
			return nil, model.ErrIneligibleEvents
		}
		if db.IsUniqueViolation(err) {
			return nil, eris.Wrap(model.ErrIneligibleEvents, "postgres: event already reserved")
		}
		return nil, eris.Wrapf(err, "postgres: reserve payout %s", payoutID)
	}
	return res, nil
}

func (s *PostgresStore) ArtistWallet(ctx context.Context, artistID string) (*string, error) {
	var wallet *string
	err := s.pool.QueryRow(ctx, `SELECT wallet_address FROM artists WHERE id = $1`, artistID).Scan(&wallet)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: artist wallet %s", artistID)
	}
	return wallet, nil
}

// CompletePayout marks the payout completed and flips its events to paid.
// The event update only matches rows still pending and unpaid, so a short
// count rolls the whole transaction back.
func (s *PostgresStore) CompletePayout(ctx context.Context, payoutID, txHash string, demo bool, eventIDs []string, at time.Time) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE payouts SET status = $1, tx_hash = $2, demo = $3, completed_at = $4
			 WHERE id = $5 AND status = $6`,
			string(model.PayoutStatusCompleted), txHash, demo, at.UTC(), payoutID, string(model.PayoutStatusPending),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: complete payout %s", payoutID)
		}
		if tag.RowsAffected() != 1 {
			return eris.Wrapf(model.ErrSettlementConflict, "postgres: payout %s is not pending", payoutID)
		}

		tag, err = tx.Exec(ctx,
			`UPDATE royalty_events SET status = $1, paid_at = $2
			 WHERE id = ANY($3) AND status = $4 AND paid_at IS NULL`,
			string(model.EventStatusPaid), at.UTC(), eventIDs, string(model.EventStatusPending),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: mark events paid for payout %s", payoutID)
		}
		if tag.RowsAffected() != int64(len(eventIDs)) {
			return eris.Wrapf(model.ErrSettlementConflict, "postgres: payout %s marked %d of %d events",
				payoutID, tag.RowsAffected(), len(eventIDs))
		}
		return nil
	})
}

func (s *PostgresStore) ReleasePayout(ctx context.Context, payoutID string) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM payout_items
			 WHERE payout_id IN (SELECT id FROM payouts WHERE id = $1 AND status = $2)`,
			payoutID, string(model.PayoutStatusPending)); err != nil {
			return eris.Wrapf(err, "postgres: delete payout items %s", payoutID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM payouts WHERE id = $1 AND status = $2`,
			payoutID, string(model.PayoutStatusPending)); err != nil {
			return eris.Wrapf(err, "postgres: delete payout %s", payoutID)
		}
		return nil
	})
}

const payoutColumns = `id, artist_id, amount_cents, tx_hash, demo, status, created_at, completed_at`

func scanPayout(row pgx.Row) (*model.Payout, error) {
	var p model.Payout
	var txHash *string
	var status string
	if err := row.Scan(&p.ID, &p.ArtistID, &p.AmountCents, &txHash, &p.Demo, &status, &p.CreatedAt, &p.CompletedAt); err != nil {
		return nil, err
	}
	if txHash != nil {
		p.TxHash = *txHash
	}
	p.Status = model.PayoutStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *PostgresStore) GetPayout(ctx context.Context, payoutID string) (*model.Payout, error) {
	p, err := scanPayout(s.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, payoutID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get payout %s", payoutID)
	}
	return p, nil
}

func (s *PostgresStore) ListPayoutItems(ctx context.Context, payoutID string) ([]model.PayoutItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, payout_id, event_id, amount_cents, created_at FROM payout_items
		 WHERE payout_id = $1 ORDER BY position`,
		payoutID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list payout items %s", payoutID)
	}
	defer rows.Close()

	var out []model.PayoutItem
	for rows.Next() {
		var it model.PayoutItem
		if err := rows.Scan(&it.ID, &it.PayoutID, &it.EventID, &it.AmountCents, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan payout item")
		}
		it.CreatedAt = it.CreatedAt.UTC()
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate payout items")
}

func (s *PostgresStore) ListPayouts(ctx context.Context, filter PayoutFilter) ([]model.Payout, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ArtistID != "" {
		args = append(args, filter.ArtistID)
		where = append(where, fmt.Sprintf("artist_id = $%d", len(args)))
	}
	if !filter.CreatedAfter.IsZero() {
		args = append(args, filter.CreatedAfter.UTC())
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.CreatedBefore.IsZero() {
		args = append(args, filter.CreatedBefore.UTC())
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := `SELECT ` + payoutColumns + ` FROM payouts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list payouts")
	}
	defer rows.Close()

	var out []model.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan payout")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate payouts")
}

// ArtistPayouts returns one page of an artist's payouts, newest first, and
// the artist's total payout count.
func (s *PostgresStore) ArtistPayouts(ctx context.Context, artistID string, limit, offset int) ([]model.PayoutSummary, int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.artist_id, p.amount_cents, p.tx_hash, p.demo, p.status, p.created_at, p.completed_at,
		        (SELECT COUNT(*) FROM payout_items pi WHERE pi.payout_id = p.id)
		 FROM payouts p
		 WHERE p.artist_id = $1
		 ORDER BY p.created_at DESC, p.id
		 LIMIT $2 OFFSET $3`,
		artistID, limit, offset,
	)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "postgres: artist payouts %s", artistID)
	}
	defer rows.Close()

	var out []model.PayoutSummary
	for rows.Next() {
		var ps model.PayoutSummary
		var txHash *string
		var status string
		var items int64
		if err := rows.Scan(&ps.ID, &ps.ArtistID, &ps.AmountCents, &txHash, &ps.Demo, &status, &ps.CreatedAt, &ps.CompletedAt, &items); err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan artist payout")
		}
		if txHash != nil {
			ps.TxHash = *txHash
		}
		ps.Status = model.PayoutStatus(status)
		ps.ItemCount = int(items)
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: iterate artist payouts")
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payouts WHERE artist_id = $1`, artistID).Scan(&total); err != nil {
		return nil, 0, eris.Wrapf(err, "postgres: count artist payouts %s", artistID)
	}
	return out, int(total), nil
}
