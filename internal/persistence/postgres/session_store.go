package postgres

import (
	"context"
	"errors"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/session"
)

// SessionStore persists session snapshots keyed by session id. The full
// session is stored as a JSON document; the indexed columns exist only for
// querying. Snapshots are written on every registry commit so a restarted
// daemon resumes from the last committed state.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore constructs a SessionStore backed by the provided pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const (
	sessionUpsertSQL = `
INSERT INTO sessions (
    id,
    symbol,
    exchange,
    strategy,
    mode,
    status,
    trading_day,
    recovered,
    snapshot,
    created_at,
    updated_at
)
VALUES (
    @id,
    @symbol,
    @exchange,
    @strategy,
    @mode,
    @status,
    @trading_day,
    @recovered,
    @snapshot::jsonb,
    @created_at,
    NOW()
)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    trading_day = EXCLUDED.trading_day,
    recovered = EXCLUDED.recovered,
    snapshot = EXCLUDED.snapshot,
    updated_at = NOW();
`

	sessionSelectSQL = `
SELECT snapshot
FROM sessions
WHERE id = @id;
`

	sessionSelectAllSQL = `
SELECT snapshot
FROM sessions
ORDER BY created_at;
`

	sessionDeleteSQL = `
DELETE FROM sessions
WHERE id = @id;
`
)

func (s *SessionStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, errs.New("persistence", errs.CodeStorage, errs.WithMessage("session store: nil pool"))
	}
	return s.pool, nil
}

// Save upserts the session snapshot.
func (s *SessionStore) Save(ctx context.Context, sess session.Session) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(sess.ID) == "" {
		return errs.New("persistence", errs.CodeStorage, errs.WithMessage("session store: session id required"))
	}
	snapshot, err := json.Marshal(sess)
	if err != nil {
		return errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("session store: encode snapshot"), errs.WithCause(err))
	}
	args := pgx.NamedArgs{
		"id":          sess.ID,
		"symbol":      sess.Symbol,
		"exchange":    sess.Exchange,
		"strategy":    sess.Strategy,
		"mode":        string(sess.Mode),
		"status":      string(sess.Status),
		"trading_day": sess.TradingDay,
		"recovered":   sess.Recovered,
		"snapshot":    snapshot,
		"created_at":  sess.CreatedAt,
	}
	if _, err := pool.Exec(ctx, sessionUpsertSQL, args); err != nil {
		return errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("session store: upsert session"), errs.WithCause(err))
	}
	return nil
}

// Load retrieves one session snapshot by id.
func (s *SessionStore) Load(ctx context.Context, id string) (session.Session, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return session.Session{}, err
	}
	var snapshot []byte
	args := pgx.NamedArgs{"id": strings.TrimSpace(id)}
	if err := pool.QueryRow(ctx, sessionSelectSQL, args).Scan(&snapshot); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, errs.New("persistence", errs.CodeNotFound,
				errs.WithMessage("session store: unknown session "+id))
		}
		return session.Session{}, errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("session store: load session"), errs.WithCause(err))
	}
	return decodeSession(snapshot)
}

// LoadAll retrieves every persisted session snapshot, oldest first. The daemon
// replays these into the registry on startup.
func (s *SessionStore) LoadAll(ctx context.Context) ([]session.Session, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, sessionSelectAllSQL)
	if err != nil {
		return nil, errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("session store: load sessions"), errs.WithCause(err))
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, errs.New("persistence", errs.CodeStorage,
				errs.WithMessage("session store: scan session"), errs.WithCause(err))
		}
		sess, err := decodeSession(snapshot)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("session store: iterate sessions"), errs.WithCause(err))
	}
	return sessions, nil
}

// Delete removes one session snapshot. Deleting an unknown id is a no-op.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{"id": strings.TrimSpace(id)}
	if _, err := pool.Exec(ctx, sessionDeleteSQL, args); err != nil {
		return errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("session store: delete session"), errs.WithCause(err))
	}
	return nil
}

func decodeSession(snapshot []byte) (session.Session, error) {
	var sess session.Session
	if err := json.Unmarshal(snapshot, &sess); err != nil {
		return session.Session{}, errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("session store: decode snapshot"), errs.WithCause(err))
	}
	return sess, nil
}
