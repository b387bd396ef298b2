package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	orderDomain "github.com/davicafu/txmessaging/internal/order/domain"
	sharedDomain "github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/sqlstore"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
)

const orderColumns = `id, tenant_id, customer_id, amount_cents, currency, status, payment_id, version, created_at, updated_at`

// OrderRepoSQL guarda pedidos con bloqueo optimista sobre la columna version.
// Trabaja sobre la transacción de la Unit of Work que lo construye.
type OrderRepoSQL struct {
	db      persistence.DBTX
	dialect sqlstore.Dialect
}

func NewOrderRepoSQL(db persistence.DBTX, d sqlstore.Dialect) *OrderRepoSQL {
	return &OrderRepoSQL{db: db, dialect: d}
}

func (r *OrderRepoSQL) Get(ctx context.Context, id string) (*orderDomain.Order, error) {
	var (
		orderID, tenantID, customerID, currency, status, paymentID string
		amount, createdAt, updatedAt                               int64
		version                                                    int
	)
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id).
		Scan(&orderID, &tenantID, &customerID, &amount, &currency, &status, &paymentID, &version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", orderDomain.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}

	return orderDomain.Rehydrate(orderID, version, tenantID, customerID, amount, currency,
		orderDomain.OrderStatus(status), paymentID,
		time.UnixMicro(createdAt).UTC(), time.UnixMicro(updatedAt).UTC()), nil
}

// Save inserta (versión 0 -> 1) o actualiza condicionado a la versión cargada.
// Si la versión almacenada no coincide no escribe nada y devuelve ErrConcurrencyConflict.
func (r *OrderRepoSQL) Save(ctx context.Context, o *orderDomain.Order) (*orderDomain.Order, error) {
	expected := o.Version()
	if expected == 0 {
		return o, r.insert(ctx, o)
	}

	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`UPDATE orders
		SET tenant_id = ?, customer_id = ?, amount_cents = ?, currency = ?, status = ?, payment_id = ?,
		    version = ?, updated_at = ?
		WHERE id = ? AND version = ?`),
		o.TenantID, o.CustomerID, o.AmountCents, o.Currency, string(o.Status), o.PaymentID,
		expected+1, o.UpdatedAt.UTC().UnixMicro(),
		o.AggregateID(), expected,
	)
	if err != nil {
		return nil, fmt.Errorf("update order %s: %w", o.AggregateID(), err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: order %s expected version %d", sharedDomain.ErrConcurrencyConflict, o.AggregateID(), expected)
	}

	o.SetVersion(expected + 1)
	return o, nil
}

func (r *OrderRepoSQL) insert(ctx context.Context, o *orderDomain.Order) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		o.AggregateID(), o.TenantID, o.CustomerID, o.AmountCents, o.Currency, string(o.Status), o.PaymentID,
		1, o.CreatedAt.UTC().UnixMicro(), o.UpdatedAt.UTC().UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.AggregateID(), err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: order %s already exists", sharedDomain.ErrConcurrencyConflict, o.AggregateID())
	}

	o.SetVersion(1)
	return nil
}

// Verificación en tiempo de compilación.
var _ orderDomain.OrderRepository = (*OrderRepoSQL)(nil)
