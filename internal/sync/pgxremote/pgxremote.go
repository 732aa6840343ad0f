// Package pgxremote implements sync.RemoteReplica as a direct
// connection to a Postgres-family remote replica (spec.md §4.6's literal
// "SQL-over-network store"), using a `clips` table mirroring the columns
// named there. Grounded on
// MKhiriev-GoPassKeeper/internal/store/sql_postgres_errors.go's
// pgerrcode-based classification, adapted to classify conflicts rather
// than retryability.
package pgxremote

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xfell/ditox/internal/clip"
	"github.com/0xfell/ditox/internal/ditoxerr"
)

// Client is a sync.RemoteReplica backed by a Postgres `clips` table.
type Client struct {
	pool *pgxpool.Pool
}

// New opens a pool against dsn and ensures the remote `clips` table
// exists with the columns spec.md §4.6 names.
func New(ctx context.Context, dsn string) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "connect to remote replica", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "ping remote replica", err)
	}

	c := &Client{pool: pool}
	if err := c.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureSchema(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS clips (
	id text PRIMARY KEY,
	kind text NOT NULL,
	text text NOT NULL,
	created_at bigint NOT NULL,
	is_favorite boolean NOT NULL DEFAULT false,
	deleted_at bigint,
	updated_at bigint NOT NULL,
	lamport bigint NOT NULL,
	device_id text NOT NULL
);
CREATE INDEX IF NOT EXISTS clips_updated_at_idx ON clips (updated_at);
`)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "ensure remote schema", err)
	}
	return nil
}

// PullSince returns remote rows updated strictly after since.
func (c *Client) PullSince(ctx context.Context, since time.Time, limit int) ([]*clip.Clip, error) {
	rows, err := c.pool.Query(ctx, `
SELECT id, kind, text, created_at, is_favorite, deleted_at, updated_at, lamport, device_id
FROM clips
WHERE updated_at > $1
ORDER BY updated_at ASC
LIMIT $2`, since.UnixNano(), limit)
	if err != nil {
		return nil, classify(err, "pull query")
	}
	defer rows.Close()

	var out []*clip.Clip
	for rows.Next() {
		var (
			id, kind, text, deviceID string
			createdAt, updatedAt     int64
			lamport                  int64
			isFavorite               bool
			deletedAt                *int64
		)
		if err := rows.Scan(&id, &kind, &text, &createdAt, &isFavorite, &deletedAt, &updatedAt, &lamport, &deviceID); err != nil {
			return nil, classify(err, "scan pull row")
		}
		cl := &clip.Clip{
			ID:         id,
			Kind:       clip.Kind(kind),
			Text:       text,
			CreatedAt:  time.Unix(0, createdAt).UTC(),
			IsFavorite: isFavorite,
			UpdatedAt:  time.Unix(0, updatedAt).UTC(),
			Lamport:    lamport,
			DeviceID:   deviceID,
		}
		if deletedAt != nil {
			t := time.Unix(0, *deletedAt).UTC()
			cl.DeletedAt = &t
		}
		out = append(out, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate pull rows")
	}
	return out, nil
}

// Upsert applies only if the remote row's (lamport, updated_at,
// device_id) tuple is strictly less than cl's under the lexicographic
// order spec.md §4.6 names.
func (c *Client) Upsert(ctx context.Context, cl *clip.Clip) (bool, error) {
	var deletedAt any
	if cl.DeletedAt != nil {
		deletedAt = cl.DeletedAt.UnixNano()
	}

	tag, err := c.pool.Exec(ctx, `
INSERT INTO clips (id, kind, text, created_at, is_favorite, deleted_at, updated_at, lamport, device_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	kind = EXCLUDED.kind,
	text = EXCLUDED.text,
	is_favorite = EXCLUDED.is_favorite,
	deleted_at = EXCLUDED.deleted_at,
	updated_at = EXCLUDED.updated_at,
	lamport = EXCLUDED.lamport,
	device_id = EXCLUDED.device_id
WHERE (clips.lamport, clips.updated_at, clips.device_id) < (EXCLUDED.lamport, EXCLUDED.updated_at, EXCLUDED.device_id)
`, cl.ID, string(cl.Kind), cl.Text, cl.CreatedAt.UnixNano(), cl.IsFavorite, deletedAt, cl.UpdatedAt.UnixNano(), cl.Lamport, cl.DeviceID)
	if err != nil {
		return false, classify(err, "upsert")
	}
	return tag.RowsAffected() > 0, nil
}

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

// classify maps a pgx/pgconn error to the core's ditoxerr taxonomy.
// Connection-class and transaction-rollback failures (serialization,
// deadlock) are Unavailable (worth retrying with backoff); unique,
// foreign-key and check violations are Conflict; every other server error
// code is Fatal. Non-server errors are Unavailable.
func classify(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ditoxerr.Wrap(ditoxerr.NotFound, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ConnectionException,
			pgerrcode.ConnectionDoesNotExist,
			pgerrcode.ConnectionFailure,
			pgerrcode.CannotConnectNow:
			return ditoxerr.Wrap(ditoxerr.Unavailable, op, err)
		case pgerrcode.TransactionRollback,
			pgerrcode.SerializationFailure,
			pgerrcode.DeadlockDetected:
			return ditoxerr.Wrap(ditoxerr.Unavailable, op, err)
		case pgerrcode.UniqueViolation,
			pgerrcode.ForeignKeyViolation,
			pgerrcode.CheckViolation:
			return ditoxerr.Wrap(ditoxerr.Conflict, op, err)
		default:
			return ditoxerr.Wrap(ditoxerr.Fatal, op, err)
		}
	}
	return ditoxerr.Wrap(ditoxerr.Unavailable, op, err)
}
