package inbox_test

import (
	"context"
	"errors"
	"testing"

	orderDomain "github.com/davicafu/txmessaging/internal/order/domain"
	"github.com/davicafu/txmessaging/internal/order/infra/outbound/db/sqlrepo"
	"github.com/davicafu/txmessaging/internal/shared/application/inbox"
	"github.com/davicafu/txmessaging/internal/shared/application/uow"
	sharedDomain "github.com/davicafu/txmessaging/internal/shared/domain"
	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/sqlstore"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/sqlstore/sqlstoretest"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	uows      *uow.Factory
	processor *inbox.Processor
	store     *sqlstore.InboxStore
}

func newFixture(t *testing.T) (fixture, func(query string) int) {
	t.Helper()
	db := sqlstoretest.NewSQLite(t)
	f := uow.NewFactory(persistence.SQLBeginner{DB: db}, sqlstore.NewOutboxRepo(db, sqlstore.SQLite), zap.NewNop())
	uow.Register(f, orderDomain.AggregateType, func(tx persistence.DBTX) sharedDomain.Repository[*orderDomain.Order] {
		return sqlrepo.NewOrderRepoSQL(tx, sqlstore.SQLite)
	})
	store := sqlstore.NewInboxStore(sqlstore.SQLite)

	count := func(query string) int {
		var n int
		require.NoError(t, db.QueryRow(query).Scan(&n))
		return n
	}
	return fixture{uows: f, processor: inbox.NewProcessor(f, store, zap.NewNop()), store: store}, count
}

func placeOrder(ctx context.Context, u *uow.UnitOfWork, id string) error {
	repo, err := uow.RepositoryFor[*orderDomain.Order](u, orderDomain.AggregateType)
	if err != nil {
		return err
	}
	o, err := orderDomain.PlaceOrder(id, "", "c-1", 100, "EUR")
	if err != nil {
		return err
	}
	return repo.Add(o)
}

func TestProcessor_AppliesEffectsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	fx, count := newFixture(t)
	key := sharedDomain.InboxKey{ConsumerGroup: "order-service", EventID: "evt-1"}

	calls := 0
	apply := func(ctx context.Context, u *uow.UnitOfWork) error {
		calls++
		return placeOrder(ctx, u, "o-1")
	}

	applied, err := fx.processor.Process(ctx, key, apply)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = fx.processor.Process(ctx, key, apply)
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, count(`SELECT COUNT(*) FROM orders`))
	assert.Equal(t, 1, count(`SELECT COUNT(*) FROM outbox`))
	assert.Equal(t, 1, count(`SELECT COUNT(*) FROM inbox`))
}

func TestProcessor_FailedApplyLeavesNoMark(t *testing.T) {
	ctx := context.Background()
	fx, count := newFixture(t)
	key := sharedDomain.InboxKey{ConsumerGroup: "order-service", EventID: "evt-2"}

	boom := errors.New("downstream failure")
	_, err := fx.processor.Process(ctx, key, func(ctx context.Context, u *uow.UnitOfWork) error {
		if err := placeOrder(ctx, u, "o-2"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, count(`SELECT COUNT(*) FROM inbox`))
	assert.Zero(t, count(`SELECT COUNT(*) FROM orders`))

	// La redelivery aplica los efectos.
	applied, err := fx.processor.Process(ctx, key, func(ctx context.Context, u *uow.UnitOfWork) error {
		return placeOrder(ctx, u, "o-2")
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, count(`SELECT COUNT(*) FROM orders`))
}

func TestProcessor_MarkRaceIsTreatedAsDuplicate(t *testing.T) {
	ctx := context.Background()
	fx, count := newFixture(t)
	key := sharedDomain.InboxKey{ConsumerGroup: "order-service", EventID: "evt-3"}

	// Simula que otro consumidor registró la clave después de nuestra comprobación.
	applied, err := fx.processor.Process(ctx, key, func(ctx context.Context, u *uow.UnitOfWork) error {
		if err := placeOrder(ctx, u, "o-3"); err != nil {
			return err
		}
		return fx.store.MarkProcessed(ctx, u.Tx(), key, fixedNow)
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Zero(t, count(`SELECT COUNT(*) FROM orders`))
	assert.Zero(t, count(`SELECT COUNT(*) FROM inbox`))
}

func TestProcessor_MessageKeyScopesByTenant(t *testing.T) {
	ctx := context.Background()
	fx, count := newFixture(t)

	calls := 0
	process := func(msg sharedBus.Message) bool {
		applied, err := fx.processor.Process(ctx, inbox.MessageKey("order-service", msg), func(ctx context.Context, u *uow.UnitOfWork) error {
			calls++
			return placeOrder(ctx, u, "o-"+msg.TenantID+"-"+msg.ID)
		})
		require.NoError(t, err)
		return applied
	}

	assert.True(t, process(sharedBus.Message{ID: "evt-9", TenantID: "t-1"}))
	assert.False(t, process(sharedBus.Message{ID: "evt-9", TenantID: "t-1"}))
	assert.True(t, process(sharedBus.Message{ID: "evt-9", TenantID: "t-2"}))

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, count(`SELECT COUNT(*) FROM inbox`))
	assert.Equal(t, sharedDomain.InboxKey{TenantID: "t-1", ConsumerGroup: "order-service", EventID: "evt-9"},
		inbox.MessageKey("order-service", sharedBus.Message{ID: "evt-9", TenantID: "t-1"}))
}

func TestProcessor_RequiresKey(t *testing.T) {
	fx, _ := newFixture(t)
	_, err := fx.processor.Process(context.Background(), sharedDomain.InboxKey{EventID: "x"}, nil)
	assert.Error(t, err)
}
