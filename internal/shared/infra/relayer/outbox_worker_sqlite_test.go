package relayer_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/txmessaging/internal/mocks"
	orderDomain "github.com/davicafu/txmessaging/internal/order/domain"
	"github.com/davicafu/txmessaging/internal/order/infra/outbound/db/sqlrepo"
	"github.com/davicafu/txmessaging/internal/shared/application/uow"
	sharedDomain "github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/internal/shared/infra/events"
	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/sqlstore"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/sqlstore/sqlstoretest"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
	"github.com/davicafu/txmessaging/internal/shared/infra/relayer"
)

func placeOrders(t *testing.T, db *sql.DB, outbox *sqlstore.OutboxRepo, ids []string, opts ...uow.Option) {
	t.Helper()
	f := uow.NewFactory(persistence.SQLBeginner{DB: db}, outbox, zap.NewNop(), opts...)
	uow.Register(f, orderDomain.AggregateType, func(tx persistence.DBTX) sharedDomain.Repository[*orderDomain.Order] {
		return sqlrepo.NewOrderRepoSQL(tx, sqlstore.SQLite)
	})

	for _, id := range ids {
		err := f.Do(context.Background(), func(ctx context.Context, u *uow.UnitOfWork) error {
			o, err := orderDomain.PlaceOrder(id, "", "c-1", 1500, "EUR")
			if err != nil {
				return err
			}
			return u.Track(o)
		})
		require.NoError(t, err)
	}
}

func TestOutboxWorker_CommittedOrderIsPublishedOnce(t *testing.T) {
	ctx := context.Background()
	db := sqlstoretest.NewSQLite(t)
	outbox := sqlstore.NewOutboxRepo(db, sqlstore.SQLite)

	placeOrders(t, db, outbox, []string{"o-1"})

	pending, err := outbox.ListByStatus(ctx, sharedDomain.OutboxPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, orderDomain.OrderPlacedEvent, pending[0].Type)

	bus := new(mocks.MockEventBus)
	bus.On("Publish", mock.Anything, mock.MatchedBy(func(msgs []sharedBus.Message) bool {
		if len(msgs) != 1 {
			return false
		}
		decoded, err := orderDomain.NewEventRegistry().Decode(msgs[0].Type, msgs[0].Payload)
		if err != nil {
			return false
		}
		placed, ok := decoded.(*orderDomain.OrderPlaced)
		return ok && placed.OrderID == "o-1" && msgs[0].ID == pending[0].EventID
	})).Return(nil).Once()

	w := relayer.NewOutboxWorker(outbox, bus, orderDomain.NewEventRegistry(), relayer.Config{WorkerID: "w-1"}, zap.NewNop())
	res, err := w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)

	got, err := outbox.Get(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, sharedDomain.OutboxPublished, got.Status)
	require.NotNil(t, got.PublishedAt)

	// Una segunda pasada no vuelve a publicar.
	res, err = w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
	bus.AssertNumberOfCalls(t, "Publish", 1)
}

func TestOutboxWorker_RacingWorkersDeliverEachRowOnce(t *testing.T) {
	ctx := context.Background()
	db := sqlstoretest.NewSQLite(t)
	outbox := sqlstore.NewOutboxRepo(db, sqlstore.SQLite)

	ids := make([]string, 30)
	for i := range ids {
		ids[i] = fmt.Sprintf("o-%02d", i)
	}
	placeOrders(t, db, outbox, ids)

	bus := events.NewInMemoryEventBus()
	var (
		mu        sync.Mutex
		delivered = map[string]int{}
	)
	require.NoError(t, bus.Subscribe(orderDomain.OrderTopic, func(_ context.Context, m sharedBus.Message) error {
		mu.Lock()
		defer mu.Unlock()
		delivered[m.ID]++
		return nil
	}))

	registry := orderDomain.NewEventRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		w := relayer.NewOutboxWorker(outbox, bus, registry,
			relayer.Config{WorkerID: fmt.Sprintf("w-%d", i), BatchSize: 4}, zap.NewNop())
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				res, err := w.ProcessBatch(ctx)
				if err != nil || res.Claimed == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, delivered, len(ids))
	for id, n := range delivered {
		assert.Equal(t, 1, n, id)
	}

	pending, err := outbox.ListByStatus(ctx, sharedDomain.OutboxPending, 100)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxWorker_FailingBusRetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	db := sqlstoretest.NewSQLite(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	outbox := sqlstore.NewOutboxRepo(db, sqlstore.SQLite, sqlstore.WithClock(clock))

	placeOrders(t, db, outbox, []string{"o-1"}, uow.WithClock(clock))

	bus := events.NewInMemoryEventBus()
	require.NoError(t, bus.Subscribe(orderDomain.OrderTopic, func(context.Context, sharedBus.Message) error {
		return fmt.Errorf("broker unavailable")
	}))

	w := relayer.NewOutboxWorker(outbox, bus, orderDomain.NewEventRegistry(), relayer.Config{
		WorkerID:    "w-1",
		MaxAttempts: 2,
		BackoffBase: time.Second,
		BackoffMax:  time.Second,
	}, zap.NewNop(), relayer.WithClock(clock))

	res, err := w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	// Aún no toca: next_attempt_at está en el futuro.
	res, err = w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)

	now = now.Add(time.Second)
	res, err = w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)

	failed, err := outbox.ListByStatus(ctx, sharedDomain.OutboxFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].AttemptCount)
	assert.Contains(t, failed[0].LastError, "broker unavailable")
}

func TestOutboxWorker_SlowBatchDoesNotShareRowsWithAnotherWorker(t *testing.T) {
	ctx := context.Background()
	db := sqlstoretest.NewSQLite(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	outbox := sqlstore.NewOutboxRepo(db, sqlstore.SQLite, sqlstore.WithClock(clock))

	placeOrders(t, db, outbox, []string{"o-1", "o-2", "o-3"}, uow.WithClock(clock))

	registry := orderDomain.NewEventRegistry()
	cfg := func(id string) relayer.Config {
		return relayer.Config{WorkerID: id, BatchSize: 3, LeaseTTL: 6 * time.Second, PublishTimeout: 5 * time.Second}
	}
	delivered := map[string][]string{}

	busB := events.NewInMemoryEventBus()
	require.NoError(t, busB.Subscribe(orderDomain.OrderTopic, func(_ context.Context, m sharedBus.Message) error {
		delivered[m.ID] = append(delivered[m.ID], "w-b")
		return nil
	}))
	workerB := relayer.NewOutboxWorker(outbox, busB, registry, cfg("w-b"), zap.NewNop(), relayer.WithClock(clock))

	// Cada publicación de A tarda 4s: el lease inicial del lote (6s) caduca antes de la tercera fila.
	var resB relayer.DispatchResult
	busA := events.NewInMemoryEventBus()
	require.NoError(t, busA.Subscribe(orderDomain.OrderTopic, func(_ context.Context, m sharedBus.Message) error {
		delivered[m.ID] = append(delivered[m.ID], "w-a")
		now = now.Add(4 * time.Second)
		if len(busA.Published()) == 2 {
			var err error
			resB, err = workerB.ProcessBatch(ctx)
			require.NoError(t, err)
		}
		return nil
	}))
	workerA := relayer.NewOutboxWorker(outbox, busA, registry, cfg("w-a"), zap.NewNop(), relayer.WithClock(clock))

	resA, err := workerA.ProcessBatch(ctx)
	require.NoError(t, err)

	// B solo puede llevarse la fila que A aún no había empezado a publicar.
	assert.Equal(t, relayer.DispatchResult{Claimed: 1, Published: 1}, resB)
	assert.Equal(t, relayer.DispatchResult{Claimed: 3, Published: 2, ClaimLost: 1}, resA)

	require.Len(t, delivered, 3)
	for id, by := range delivered {
		assert.Len(t, by, 1, id)
	}

	pending, err := outbox.ListByStatus(ctx, sharedDomain.OutboxPending, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
