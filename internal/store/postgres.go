package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/dwellscope/listing-cli/internal/db"
	"github.com/dwellscope/listing-cli/internal/model"
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

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	listing_url       TEXT NOT NULL,
	listing_id        TEXT,
	status            TEXT NOT NULL DEFAULT 'CREATED',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_extracted_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_user_listing_id
	ON sessions(user_id, listing_id) WHERE listing_id IS NOT NULL AND listing_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_user_listing_url
	ON sessions(user_id, listing_url) WHERE listing_id IS NULL OR listing_id = '';
CREATE INDEX IF NOT EXISTS idx_sessions_user_status ON sessions(user_id, status);

CREATE TABLE IF NOT EXISTS usage_counters (
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	used        INTEGER NOT NULL DEFAULT 0,
	quota_limit INTEGER NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, action),
	CHECK (used >= 0)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	delta       INTEGER NOT NULL,
	reason      TEXT NOT NULL,
	direction   TEXT,
	amount      INTEGER,
	note        TEXT,
	purchase_id TEXT,
	session_id  TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ledger_user_action ON ledger_entries(user_id, action);
CREATE INDEX IF NOT EXISTS idx_ledger_user_reason ON ledger_entries(user_id, reason);

CREATE TABLE IF NOT EXISTS raw_facts (
	session_id TEXT PRIMARY KEY REFERENCES sessions(id),
	facts      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS confirmed_facts (
	session_id        TEXT PRIMARY KEY REFERENCES sessions(id),
	facts             JSONB NOT NULL,
	confirmed_by_user BOOLEAN NOT NULL,
	confirmed_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_stats (
	session_id          TEXT PRIMARY KEY REFERENCES sessions(id),
	fields              JSONB NOT NULL,
	required_confidence JSONB,
	optional_confidence JSONB,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS confirmed_stats (
	session_id          TEXT PRIMARY KEY REFERENCES sessions(id),
	fields              JSONB NOT NULL,
	required_confidence JSONB NOT NULL,
	required_source     JSONB,
	confirmed_by_user   BOOLEAN NOT NULL,
	confirmed_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS evaluations (
	session_id   TEXT PRIMARY KEY REFERENCES sessions(id),
	score        DOUBLE PRECISION NOT NULL,
	summary      TEXT NOT NULL,
	pros         JSONB,
	cons         JSONB,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS user_preferences (
	user_id             TEXT PRIMARY KEY,
	commute_destination TEXT NOT NULL DEFAULT '',
	commute_mode        TEXT NOT NULL DEFAULT '',
	max_commute_minutes INTEGER NOT NULL DEFAULT 0,
	priorities          JSONB,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// statusStrings converts a status set to the plain string slice pgx
// binds for `= ANY($n)` predicates.
func statusStrings(from []model.Status) []string {
	out := make([]string, len(from))
	for i, st := range from {
		out[i] = string(st)
	}
	return out
}

const selectSessionColumns = `id, user_id, listing_url, COALESCE(listing_id, ''), status, created_at, updated_at, last_extracted_at`

func scanSession(row pgx.Row) (*model.PropertySession, error) {
	var sess model.PropertySession
	var lastExtracted *time.Time
	err := row.Scan(&sess.ID, &sess.UserID, &sess.ListingURL, &sess.ListingID,
		&sess.Status, &sess.CreatedAt, &sess.UpdatedAt, &lastExtracted)
	if err != nil {
		return nil, err
	}
	sess.LastExtractedAt = lastExtracted
	return &sess, nil
}

func (s *PostgresStore) CreateOrGetSession(ctx context.Context, userID, listingURL, listingID string) (*model.PropertySession, bool, error) {
	existing, err := s.findSession(ctx, userID, listingURL, listingID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	count, err := s.CountSessions(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if count >= model.MaxSessionsPerUser {
		return nil, false, eris.Wrapf(ErrSessionCap, "user %s has %d sessions", userID, count)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, listing_url, listing_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $6)
		 ON CONFLICT DO NOTHING`,
		id, userID, listingURL, listingID, string(model.StatusCreated), now,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: insert session")
	}
	if tag.RowsAffected() == 0 {
		// Lost a creation race on the unique listing index; the winner's
		// row is the session.
		existing, err := s.findSession(ctx, userID, listingURL, listingID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, eris.Errorf("postgres: session conflict but no row for user %s", userID)
		}
		return existing, false, nil
	}

	return &model.PropertySession{
		ID:         id,
		UserID:     userID,
		ListingURL: listingURL,
		ListingID:  listingID,
		Status:     model.StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, true, nil
}

func (s *PostgresStore) findSession(ctx context.Context, userID, listingURL, listingID string) (*model.PropertySession, error) {
	var row pgx.Row
	if listingID != "" {
		row = s.pool.QueryRow(ctx,
			`SELECT `+selectSessionColumns+` FROM sessions WHERE user_id = $1 AND listing_id = $2`,
			userID, listingID,
		)
	} else {
		row = s.pool.QueryRow(ctx,
			`SELECT `+selectSessionColumns+` FROM sessions WHERE user_id = $1 AND listing_url = $2`,
			userID, listingURL,
		)
	}
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find session")
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.PropertySession, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+selectSessionColumns+` FROM sessions WHERE id = $1`,
		sessionID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get session %s", sessionID)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID string, filter SessionFilter) ([]model.PropertySession, error) {
	query := `SELECT ` + selectSessionColumns + ` FROM sessions WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.PropertySession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func (s *PostgresStore) CountSessions(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = $1`, userID,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count sessions")
}

func (s *PostgresStore) GuardedTransition(ctx context.Context, sessionID, ownerID string, from []model.Status, to model.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, updated_at = $2
		 WHERE id = $3 AND user_id = $4 AND status = ANY($5)`,
		string(to), time.Now().UTC(), sessionID, ownerID, statusStrings(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: guarded transition %s -> %s", sessionID, to)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) TouchExtracted(ctx context.Context, sessionID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET last_extracted_at = $1, updated_at = $1 WHERE id = $2`,
		at, sessionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch extracted %s", sessionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("session not found: %s", sessionID)
	}
	return nil
}

// --- Artifacts ---

func (s *PostgresStore) UpsertRawFacts(ctx context.Context, sessionID string, facts model.ListingFacts) error {
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal raw facts")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO raw_facts (session_id, facts, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE SET facts = $2, updated_at = $3`,
		sessionID, factsJSON, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: upsert raw facts")
}

func (s *PostgresStore) GetRawFacts(ctx context.Context, sessionID string) (*model.RawFacts, error) {
	var rf model.RawFacts
	var factsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, facts, updated_at FROM raw_facts WHERE session_id = $1`,
		sessionID,
	).Scan(&rf.SessionID, &factsJSON, &rf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get raw facts")
	}
	if err := json.Unmarshal(factsJSON, &rf.Facts); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal raw facts")
	}
	return &rf, nil
}

func (s *PostgresStore) UpsertConfirmedFacts(ctx context.Context, cf model.ConfirmedFacts) error {
	factsJSON, err := json.Marshal(cf.Facts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal confirmed facts")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO confirmed_facts (session_id, facts, confirmed_by_user, confirmed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE SET facts = $2, confirmed_by_user = $3, confirmed_at = $4`,
		cf.SessionID, factsJSON, cf.ConfirmedByUser, cf.ConfirmedAt,
	)
	return eris.Wrap(err, "postgres: upsert confirmed facts")
}

func (s *PostgresStore) GetConfirmedFacts(ctx context.Context, sessionID string) (*model.ConfirmedFacts, error) {
	var cf model.ConfirmedFacts
	var factsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, facts, confirmed_by_user, confirmed_at FROM confirmed_facts WHERE session_id = $1`,
		sessionID,
	).Scan(&cf.SessionID, &factsJSON, &cf.ConfirmedByUser, &cf.ConfirmedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get confirmed facts")
	}
	if err := json.Unmarshal(factsJSON, &cf.Facts); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal confirmed facts")
	}
	return &cf, nil
}

func (s *PostgresStore) UpsertRawStats(ctx context.Context, rs model.RawStats) error {
	fieldsJSON, err := json.Marshal(rs.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal raw stats fields")
	}
	reqJSON, err := json.Marshal(rs.RequiredConfidence)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal required confidence")
	}
	optJSON, err := json.Marshal(rs.OptionalConfidence)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal optional confidence")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO raw_stats (session_id, fields, required_confidence, optional_confidence, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO UPDATE SET fields = $2, required_confidence = $3, optional_confidence = $4, updated_at = $5`,
		rs.SessionID, fieldsJSON, reqJSON, optJSON, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: upsert raw stats")
}

func (s *PostgresStore) GetRawStats(ctx context.Context, sessionID string) (*model.RawStats, error) {
	var rs model.RawStats
	var fieldsJSON, reqJSON, optJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, fields, required_confidence, optional_confidence, updated_at FROM raw_stats WHERE session_id = $1`,
		sessionID,
	).Scan(&rs.SessionID, &fieldsJSON, &reqJSON, &optJSON, &rs.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get raw stats")
	}
	if err := json.Unmarshal(fieldsJSON, &rs.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal raw stats fields")
	}
	if len(reqJSON) > 0 {
		if err := json.Unmarshal(reqJSON, &rs.RequiredConfidence); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal required confidence")
		}
	}
	if len(optJSON) > 0 {
		if err := json.Unmarshal(optJSON, &rs.OptionalConfidence); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal optional confidence")
		}
	}
	return &rs, nil
}

func (s *PostgresStore) UpsertConfirmedStats(ctx context.Context, cs model.ConfirmedStats) error {
	fieldsJSON, err := json.Marshal(cs.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal confirmed stats fields")
	}
	reqJSON, err := json.Marshal(cs.RequiredConfidence)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal required confidence")
	}
	srcJSON, err := json.Marshal(cs.RequiredSource)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal required source")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO confirmed_stats (session_id, fields, required_confidence, required_source, confirmed_by_user, confirmed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id) DO UPDATE SET fields = $2, required_confidence = $3, required_source = $4, confirmed_by_user = $5, confirmed_at = $6`,
		cs.SessionID, fieldsJSON, reqJSON, srcJSON, cs.ConfirmedByUser, cs.ConfirmedAt,
	)
	return eris.Wrap(err, "postgres: upsert confirmed stats")
}

func (s *PostgresStore) GetConfirmedStats(ctx context.Context, sessionID string) (*model.ConfirmedStats, error) {
	var cs model.ConfirmedStats
	var fieldsJSON, reqJSON, srcJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, fields, required_confidence, required_source, confirmed_by_user, confirmed_at FROM confirmed_stats WHERE session_id = $1`,
		sessionID,
	).Scan(&cs.SessionID, &fieldsJSON, &reqJSON, &srcJSON, &cs.ConfirmedByUser, &cs.ConfirmedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get confirmed stats")
	}
	if err := json.Unmarshal(fieldsJSON, &cs.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal confirmed stats fields")
	}
	if err := json.Unmarshal(reqJSON, &cs.RequiredConfidence); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal required confidence")
	}
	if len(srcJSON) > 0 {
		if err := json.Unmarshal(srcJSON, &cs.RequiredSource); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal required source")
		}
	}
	return &cs, nil
}

func (s *PostgresStore) UpsertEvaluation(ctx context.Context, ev model.Evaluation) error {
	prosJSON, err := json.Marshal(ev.Pros)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pros")
	}
	consJSON, err := json.Marshal(ev.Cons)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cons")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO evaluations (session_id, score, summary, pros, cons, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id) DO UPDATE SET score = $2, summary = $3, pros = $4, cons = $5, completed_at = $6`,
		ev.SessionID, ev.Score, ev.Summary, prosJSON, consJSON, ev.CompletedAt,
	)
	return eris.Wrap(err, "postgres: upsert evaluation")
}

func (s *PostgresStore) GetEvaluation(ctx context.Context, sessionID string) (*model.Evaluation, error) {
	var ev model.Evaluation
	var prosJSON, consJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, score, summary, pros, cons, completed_at FROM evaluations WHERE session_id = $1`,
		sessionID,
	).Scan(&ev.SessionID, &ev.Score, &ev.Summary, &prosJSON, &consJSON, &ev.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get evaluation")
	}
	if len(prosJSON) > 0 {
		if err := json.Unmarshal(prosJSON, &ev.Pros); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal pros")
		}
	}
	if len(consJSON) > 0 {
		if err := json.Unmarshal(consJSON, &ev.Cons); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal cons")
		}
	}
	return &ev, nil
}

func (s *PostgresStore) GetPreferences(ctx context.Context, userID string) (*model.Preferences, error) {
	var p model.Preferences
	var prioritiesJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, commute_destination, commute_mode, max_commute_minutes, priorities, updated_at
		 FROM user_preferences WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.CommuteDestination, &p.CommuteMode, &p.MaxCommuteMinutes, &prioritiesJSON, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get preferences")
	}
	if len(prioritiesJSON) > 0 {
		if err := json.Unmarshal(prioritiesJSON, &p.Priorities); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal priorities")
		}
	}
	return &p, nil
}

// --- Quota ---

func (s *PostgresStore) EnsureCounters(ctx context.Context, userID string) ([]model.Action, error) {
	var created []model.Action
	now := time.Now().UTC()
	for _, action := range model.AllActions {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO usage_counters (user_id, action, used, quota_limit, updated_at)
			 VALUES ($1, $2, 0, 0, $3)
			 ON CONFLICT (user_id, action) DO NOTHING`,
			userID, string(action), now,
		)
		if err != nil {
			return created, eris.Wrapf(err, "postgres: ensure counter %s/%s", userID, action)
		}
		if tag.RowsAffected() > 0 {
			created = append(created, action)
		}
	}
	return created, nil
}

func (s *PostgresStore) ListCounterUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM usage_counters ORDER BY user_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list counter users")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "postgres: scan counter user")
		}
		users = append(users, u)
	}
	return users, eris.Wrap(rows.Err(), "postgres: list counter users iterate")
}

func (s *PostgresStore) GetCounter(ctx context.Context, userID string, action model.Action) (*model.UsageCounter, error) {
	var c model.UsageCounter
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, action, used, quota_limit, updated_at FROM usage_counters WHERE user_id = $1 AND action = $2`,
		userID, string(action),
	).Scan(&c.UserID, &c.Action, &c.Used, &c.Limit, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get counter")
	}
	return &c, nil
}

func (s *PostgresStore) GetCounters(ctx context.Context, userID string) ([]model.UsageCounter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, action, used, quota_limit, updated_at FROM usage_counters WHERE user_id = $1 ORDER BY action`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get counters")
	}
	defer rows.Close()

	var counters []model.UsageCounter
	for rows.Next() {
		var c model.UsageCounter
		if err := rows.Scan(&c.UserID, &c.Action, &c.Used, &c.Limit, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan counter")
		}
		counters = append(counters, c)
	}
	return counters, eris.Wrap(rows.Err(), "postgres: get counters iterate")
}

// ConsumeQuota holds the central accounting invariant: the conditional
// increment and the usage debit land in one transaction, so two racing
// callers can never both take the last unit, and `used` always equals
// the count of usage debits.
func (s *PostgresStore) ConsumeQuota(ctx context.Context, userID string, action model.Action, sessionID string) (*model.UsageCounter, bool, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: consume quota begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var c model.UsageCounter
	c.UserID = userID
	c.Action = action
	c.UpdatedAt = now
	err = tx.QueryRow(ctx,
		`UPDATE usage_counters SET used = used + 1, updated_at = $3
		 WHERE user_id = $1 AND action = $2 AND used < quota_limit
		 RETURNING used, quota_limit`,
		userID, string(action), now,
	).Scan(&c.Used, &c.Limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Exhausted (or missing) — report current standing, no mutation.
			current, getErr := s.GetCounter(ctx, userID, action)
			if getErr != nil {
				return nil, false, getErr
			}
			if current == nil {
				return nil, false, eris.Errorf("postgres: no usage counter for %s/%s", userID, action)
			}
			return current, false, nil
		}
		return nil, false, eris.Wrap(err, "postgres: consume quota update")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, action, delta, reason, direction, amount, note, session_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`,
		uuid.New().String(), userID, string(action), -1,
		string(model.ReasonUsage), string(model.DirectionDebit), 1, "", sessionID, now,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: consume quota ledger insert")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, eris.Wrap(err, "postgres: consume quota commit")
	}
	return &c, true, nil
}

func (s *PostgresStore) AppendAdjustment(ctx context.Context, entry model.LedgerEntry, limitDelta, usedDelta int) (*model.UsageCounter, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: adjustment begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var c model.UsageCounter
	c.UserID = entry.UserID
	c.Action = entry.Action
	c.UpdatedAt = entry.CreatedAt
	err = tx.QueryRow(ctx,
		`UPDATE usage_counters
		 SET quota_limit = quota_limit + $3, used = GREATEST(used + $4, 0), updated_at = $5
		 WHERE user_id = $1 AND action = $2
		 RETURNING used, quota_limit`,
		entry.UserID, string(entry.Action), limitDelta, usedDelta, entry.CreatedAt,
	).Scan(&c.Used, &c.Limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: adjustment update %s/%s", entry.UserID, entry.Action)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, action, delta, reason, direction, amount, note, purchase_id, session_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11)`,
		entry.ID, entry.UserID, string(entry.Action), entry.Delta,
		string(entry.Reason), string(entry.Direction), entry.Amount,
		entry.Note, entry.PurchaseID, entry.SessionID, entry.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: adjustment ledger insert")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: adjustment commit")
	}
	return &c, nil
}

func (s *PostgresStore) ListLedger(ctx context.Context, userID string, filter LedgerFilter) ([]model.LedgerEntry, error) {
	query := `SELECT id, user_id, action, delta, reason, COALESCE(direction, ''), COALESCE(amount, 0),
	          COALESCE(note, ''), COALESCE(purchase_id, ''), COALESCE(session_id, ''), created_at
	          FROM ledger_entries WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if filter.Action != "" {
		query += fmt.Sprintf(` AND action = $%d`, argIdx)
		args = append(args, string(filter.Action))
		argIdx++
	}
	if filter.Reason != "" {
		query += fmt.Sprintf(` AND reason = $%d`, argIdx)
		args = append(args, string(filter.Reason))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ledger")
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Delta, &e.Reason,
			&e.Direction, &e.Amount, &e.Note, &e.PurchaseID, &e.SessionID, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ledger entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list ledger iterate")
}

func (s *PostgresStore) UsageTotals(ctx context.Context, userID string) (map[model.Action]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT action, COALESCE(SUM(delta), 0) FROM ledger_entries
		 WHERE user_id = $1 AND reason = ANY($2) GROUP BY action`,
		userID, []string{string(model.ReasonUsage), string(model.ReasonRefund)},
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: usage totals")
	}
	defer rows.Close()

	totals := make(map[model.Action]int)
	for rows.Next() {
		var action string
		var total int
		if err := rows.Scan(&action, &total); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage total")
		}
		totals[model.Action(action)] = total
	}
	return totals, eris.Wrap(rows.Err(), "postgres: usage totals iterate")
}
