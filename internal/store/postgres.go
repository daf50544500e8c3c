package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"smartattendance/internal/apperr"
)

const notifyChannel = "state_changes"

const schema = `
CREATE TABLE IF NOT EXISTS state_nodes (
	path       TEXT PRIMARY KEY,
	parent     TEXT NOT NULL,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS state_nodes_parent_idx ON state_nodes (parent, path);
`

// NewDB opens a Postgres pool through the pgx stdlib driver.
func NewDB(connString string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return db, db.PingContext(context.Background())
}

// Postgres keeps nodes in a single table and fans changes out with
// LISTEN/NOTIFY. Notifications carry only the path; subscribers re-read.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open pool. Call Migrate before first use.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the node table if needed.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate state_nodes: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, path string) ([]byte, bool, error) {
	var v []byte
	err := p.db.QueryRowContext(ctx, `SELECT value FROM state_nodes WHERE path = $1`, path).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Unavailable(err)
	}
	return v, true, nil
}

func (p *Postgres) Set(ctx context.Context, path string, value []byte) error {
	return p.inTx(ctx, path, false, func(tx *sql.Tx) (bool, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO state_nodes (path, parent, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, path, parentOf(path), value)
		return err == nil, err
	})
}

func (p *Postgres) ConditionalSet(ctx context.Context, path string, expected, value []byte) (bool, error) {
	var applied bool
	err := p.inTx(ctx, path, false, func(tx *sql.Tx) (bool, error) {
		var res sql.Result
		var err error
		if expected == nil {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO state_nodes (path, parent, value)
				VALUES ($1, $2, $3)
				ON CONFLICT (path) DO NOTHING
			`, path, parentOf(path), value)
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE state_nodes SET value = $3, updated_at = NOW()
				WHERE path = $1 AND value = $2
			`, path, expected, value)
		}
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		applied = n == 1
		return applied, nil
	})
	return applied, err
}

func (p *Postgres) Delete(ctx context.Context, path string) error {
	return p.inTx(ctx, path, true, func(tx *sql.Tx) (bool, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM state_nodes WHERE path = $1`, path)
		if err != nil {
			return false, err
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	})
}

// inTx runs fn and, when it reports a write, queues a notification that is
// delivered on commit.
func (p *Postgres) inTx(ctx context.Context, path string, deleted bool, fn func(*sql.Tx) (bool, error)) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	wrote, err := fn(tx)
	if err != nil {
		return apperr.Unavailable(err)
	}
	if wrote {
		payload, _ := json.Marshal(Change{Path: path, Deleted: deleted})
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
			return apperr.Unavailable(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

func (p *Postgres) Children(ctx context.Context, path string) ([]Node, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT path, value FROM state_nodes WHERE parent = $1 ORDER BY path
	`, path)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	defer rows.Close()
	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.Path, &n.Value); err != nil {
			return nil, apperr.Unavailable(err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable(err)
	}
	return out, nil
}

// Subscribe holds a dedicated connection in LISTEN mode until ctx ends.
func (p *Postgres) Subscribe(ctx context.Context, path string) (<-chan Change, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if _, err := conn.ExecContext(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close()
		return nil, apperr.Unavailable(err)
	}

	out := make(chan Change, 64)
	go func() {
		defer close(out)
		defer conn.Close()
		err := conn.Raw(func(driverConn any) error {
			pc := driverConn.(*stdlib.Conn).Conn()
			defer func() {
				_, _ = pc.Exec(context.Background(), "UNLISTEN *")
			}()
			for {
				n, err := pc.WaitForNotification(ctx)
				if err != nil {
					return err
				}
				var c Change
				if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
					log.Printf("store: bad notification payload: %v", err)
					continue
				}
				if !covers(path, c.Path) {
					continue
				}
				if !c.Deleted {
					v, ok, err := p.Get(ctx, c.Path)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					c.Value = v
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("store: listen on %s ended: %v", path, err)
		}
	}()
	return out, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

var _ Store = (*Postgres)(nil)
