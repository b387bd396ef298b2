package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
)

// InboxStore implementa persistence.InboxStore. Opera siempre sobre la
// transacción del consumidor para que la marca y los efectos sean atómicos.
type InboxStore struct {
	dialect Dialect
}

func NewInboxStore(d Dialect) *InboxStore {
	return &InboxStore{dialect: d}
}

func (s *InboxStore) IsProcessed(ctx context.Context, tx persistence.DBTX, key domain.InboxKey) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT 1 FROM inbox
		WHERE tenant_id = ? AND consumer_group = ? AND event_id = ?`),
		key.TenantID, key.ConsumerGroup, key.EventID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check inbox %s/%s: %w", key.ConsumerGroup, key.EventID, err)
	}
	return true, nil
}

func (s *InboxStore) MarkProcessed(ctx context.Context, tx persistence.DBTX, key domain.InboxKey, receivedAt time.Time) error {
	res, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO inbox (tenant_id, consumer_group, event_id, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, consumer_group, event_id) DO NOTHING`),
		key.TenantID, key.ConsumerGroup, key.EventID, toMicros(receivedAt),
	)
	if err != nil {
		return fmt.Errorf("mark inbox %s/%s: %w", key.ConsumerGroup, key.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", domain.ErrInboxAlreadyProcessed, key.ConsumerGroup, key.EventID)
	}
	return nil
}

var _ persistence.InboxStore = (*InboxStore)(nil)
