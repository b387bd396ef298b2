package mocks

import (
	"context"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockOutboxRepository simula el repositorio del outbox.
type MockOutboxRepository struct {
	mock.Mock
}

var _ persistence.OutboxRepository = (*MockOutboxRepository)(nil)

func (m *MockOutboxRepository) Append(ctx context.Context, tx persistence.DBTX, rec domain.OutboxRecord) error {
	args := m.Called(ctx, tx, rec)
	return args.Error(0)
}

func (m *MockOutboxRepository) ClaimPending(ctx context.Context, owner string, limit int, lease time.Duration) ([]domain.OutboxRecord, error) {
	args := m.Called(ctx, owner, limit, lease)
	recs, _ := args.Get(0).([]domain.OutboxRecord)
	return recs, args.Error(1)
}

func (m *MockOutboxRepository) ClaimByIDs(ctx context.Context, owner string, ids []uuid.UUID, lease time.Duration) ([]domain.OutboxRecord, error) {
	args := m.Called(ctx, owner, ids, lease)
	recs, _ := args.Get(0).([]domain.OutboxRecord)
	return recs, args.Error(1)
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, owner string, at time.Time) error {
	args := m.Called(ctx, id, owner, at)
	return args.Error(0)
}

func (m *MockOutboxRepository) ReleaseForRetry(ctx context.Context, id uuid.UUID, owner string, attempts int, nextAttemptAt time.Time, lastErr string) error {
	args := m.Called(ctx, id, owner, attempts, nextAttemptAt, lastErr)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, owner string, attempts int, lastErr string) error {
	args := m.Called(ctx, id, owner, attempts, lastErr)
	return args.Error(0)
}

func (m *MockOutboxRepository) RenewClaim(ctx context.Context, id uuid.UUID, owner string, lease time.Duration) error {
	args := m.Called(ctx, id, owner, lease)
	return args.Error(0)
}

func (m *MockOutboxRepository) ReleaseClaim(ctx context.Context, id uuid.UUID, owner string) error {
	args := m.Called(ctx, id, owner)
	return args.Error(0)
}

func (m *MockOutboxRepository) Get(ctx context.Context, id uuid.UUID) (domain.OutboxRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(domain.OutboxRecord)
	return rec, args.Error(1)
}

func (m *MockOutboxRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
