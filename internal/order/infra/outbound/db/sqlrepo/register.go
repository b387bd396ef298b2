package sqlrepo

import (
	orderDomain "github.com/davicafu/txmessaging/internal/order/domain"
	"github.com/davicafu/txmessaging/internal/shared/application/uow"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/sqlstore"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
)

// Register asocia el repositorio SQL de pedidos a la factoría de UoW.
func Register(f *uow.Factory, d sqlstore.Dialect) {
	uow.Register(f, orderDomain.AggregateType, func(tx persistence.DBTX) orderDomain.OrderRepository {
		return NewOrderRepoSQL(tx, d)
	})
}
