package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hermes-backend/internal/event"
)

// AnalyticsConfig configures the Postgres-backed event log.
type AnalyticsConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	PoolSize int
}

func (c AnalyticsConfig) connString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// AnalyticsRecorder appends sync events to the analytics store. Writes are
// synchronous so a failed append surfaces in the event's outcome instead of
// vanishing from a background buffer.
type AnalyticsRecorder struct {
	pool *pgxpool.Pool
}

// NewAnalyticsRecorder connects and pings the analytics database.
func NewAnalyticsRecorder(ctx context.Context, cfg AnalyticsConfig) (*AnalyticsRecorder, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.PoolSize > 0 {
		poolCfg.MaxConns = int32(cfg.PoolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &AnalyticsRecorder{pool: pool}, nil
}

// Bootstrap creates the sync_events table.
func (r *AnalyticsRecorder) Bootstrap(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS sync_events (
		id UUID PRIMARY KEY,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		delivery_id TEXT,
		source_ip TEXT,
		payload JSONB,
		received_at TIMESTAMPTZ NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("create sync_events: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS sync_events_entity_idx ON sync_events (entity_type, entity_id, received_at)`)
	if err != nil {
		return fmt.Errorf("index sync_events: %w", err)
	}
	return nil
}

// Record appends one event row.
func (r *AnalyticsRecorder) Record(ctx context.Context, rec *event.AnalyticsRecord) error {
	return r.RecordBatch(ctx, []*event.AnalyticsRecord{rec})
}

// RecordBatch appends many rows in a single parameterized insert. Payload
// values travel as bind parameters, never concatenated into the SQL.
func (r *AnalyticsRecorder) RecordBatch(ctx context.Context, recs []*event.AnalyticsRecord) error {
	const op = "analytics record"
	if len(recs) == 0 {
		return nil
	}

	cols := []string{"id", "action", "entity_type", "entity_id", "delivery_id", "source_ip", "payload", "received_at"}
	var placeholders []string
	var args []any
	for i, rec := range recs {
		offset := i * len(cols)
		ph := make([]string, len(cols))
		for j := range cols {
			ph[j] = fmt.Sprintf("$%d", offset+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")

		var payloadJSON any
		if rec.Payload != nil {
			b, _ := json.Marshal(rec.Payload)
			payloadJSON = string(b)
		}

		args = append(args, rec.EventID, rec.Action, rec.EntityType, rec.EntityID,
			rec.DeliveryID, rec.SourceIP, payloadJSON, rec.ReceivedAt)
	}

	sql := fmt.Sprintf("INSERT INTO sync_events (%s) VALUES %s",
		strings.Join(cols, ","), strings.Join(placeholders, ","))
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return classifyPG(op, err)
	}
	return nil
}

// Close releases the connection pool.
func (r *AnalyticsRecorder) Close() {
	r.pool.Close()
}

// classifyPG maps a Postgres failure to a kind. Data and constraint
// violations (SQLSTATE classes 22 and 23) are terminal; auth failures
// (class 28) too. The returned error carries only the SQLSTATE code; the
// full message stays in the server log.
func classifyPG(op string, err error) *StoreError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &StoreError{Kind: KindTimeout, Op: op, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		log.Printf("ERROR: %s: %s: %s", op, pgErr.Code, pgErr.Message)
		switch {
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"):
			return &StoreError{Kind: KindValidation, Op: op, Err: errors.New(pgErr.Code)}
		case strings.HasPrefix(pgErr.Code, "28"):
			return &StoreError{Kind: KindAuthorization, Op: op, Err: errors.New(pgErr.Code)}
		}
		return &StoreError{Kind: KindUnavailable, Op: op, Err: errors.New(pgErr.Code)}
	}
	return classifyTransport(op, err)
}
