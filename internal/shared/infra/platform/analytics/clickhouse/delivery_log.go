package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/davicafu/txmessaging/internal/shared/infra/relayer"
)

// DeliveryLog guarda en ClickHouse el resultado terminal de cada registro del outbox.
type DeliveryLog struct {
	db *sql.DB
}

func NewDeliveryLog(addr string, dbName string) (*DeliveryLog, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &DeliveryLog{db: conn}, nil
}

func (r *DeliveryLog) Close() error {
	return r.db.Close()
}

// LogBatch inserta las entregas de una pasada en un único lote.
func (r *DeliveryLog) LogBatch(ctx context.Context, deliveries []relayer.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO outbox_deliveries
		(outbox_id, event_id, event_type, topic, tenant_id, aggregate_id, outcome, attempts, last_error, worker_id, event_time)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, d := range deliveries {
		if _, err := stmt.ExecContext(ctx,
			d.OutboxID,
			d.EventID,
			d.EventType,
			d.Topic,
			d.TenantID,
			d.AggregateID,
			string(d.Outcome),
			uint32(d.Attempts),
			d.LastError,
			d.WorkerID,
			d.At,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to exec statement for outbox record %s: %w", d.OutboxID, err)
		}
	}

	return tx.Commit()
}

// OutcomeCount agrega entregas por tipo de evento y resultado.
type OutcomeCount struct {
	EventType string
	Outcome   relayer.DeliveryOutcome
	Count     uint64
}

// CountByOutcome resume las entregas entre start y end.
func (r *DeliveryLog) CountByOutcome(ctx context.Context, start, end time.Time) ([]OutcomeCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, outcome, count() AS total
		FROM outbox_deliveries
		WHERE event_time BETWEEN ? AND ?
		GROUP BY event_type, outcome
		ORDER BY event_type, outcome
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeCount
	for rows.Next() {
		var (
			c       OutcomeCount
			outcome string
		)
		if err := rows.Scan(&c.EventType, &outcome, &c.Count); err != nil {
			return nil, err
		}
		c.Outcome = relayer.DeliveryOutcome(outcome)
		out = append(out, c)
	}
	return out, rows.Err()
}

// InitSchema crea la tabla si no existe. Se particiona por mes y se ordena por tipo y resultado.
func (r *DeliveryLog) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS outbox_deliveries (
			outbox_id    UUID,
			event_id     String,
			event_type   LowCardinality(String),
			topic        LowCardinality(String),
			tenant_id    String,
			aggregate_id String,
			outcome      LowCardinality(String),
			attempts     UInt32,
			last_error   String,
			worker_id    String,
			event_time   DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(event_time)
		ORDER BY (event_type, outcome, event_time)
	`)
	return err
}

var _ relayer.Auditor = (*DeliveryLog)(nil)
