package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardapiopro/cardapio-api/internal/domain/loyalty"
)

const (
	customerColumns = `id, name, email, phone, status, total_orders, total_spent, average_ticket,
		first_order_at, last_order_at, loyalty_points, lifetime_points, tier, created_at, updated_at`

	insertCustomerSQL = `INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getCustomerSQL  = `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	lockCustomerSQL = getCustomerSQL + ` FOR UPDATE`

	saveCustomerSQL = `UPDATE customers SET name = $2, email = $3, phone = $4, status = $5,
		total_orders = $6, total_spent = $7, average_ticket = $8, first_order_at = $9,
		last_order_at = $10, loyalty_points = $11, lifetime_points = $12, tier = $13, updated_at = $14
		WHERE id = $1`

	insertLoyaltyTransactionSQL = `INSERT INTO loyalty_transactions
		(id, customer_id, type, points, description, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listLoyaltyTransactionsSQL = `SELECT id, customer_id, type, points, description, order_id, created_at
		FROM loyalty_transactions WHERE customer_id = $1 ORDER BY created_at DESC, id DESC`
)

var _ loyalty.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements loyalty.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

func (r *CustomerRepository) CreateCustomer(ctx context.Context, c *loyalty.Customer) error {
	_, err := conn(ctx, r.pool).Exec(ctx, insertCustomerSQL,
		c.ID, c.Name, c.Email, c.Phone, string(c.Status), c.TotalOrders, c.TotalSpent, c.AverageTicket,
		c.FirstOrderAt, c.LastOrderAt, c.LoyaltyPoints, c.LifetimePoints, string(c.Tier), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating customer %q: %w", c.ID, err)
	}
	return nil
}

func (r *CustomerRepository) GetCustomer(ctx context.Context, id string) (*loyalty.Customer, error) {
	return r.one(ctx, getCustomerSQL, id)
}

// LockCustomer must run inside a transaction; the lock is released on commit
// or rollback.
func (r *CustomerRepository) LockCustomer(ctx context.Context, id string) (*loyalty.Customer, error) {
	return r.one(ctx, lockCustomerSQL, id)
}

func (r *CustomerRepository) SaveCustomer(ctx context.Context, c *loyalty.Customer) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, saveCustomerSQL,
		c.ID, c.Name, c.Email, c.Phone, string(c.Status), c.TotalOrders, c.TotalSpent, c.AverageTicket,
		c.FirstOrderAt, c.LastOrderAt, c.LoyaltyPoints, c.LifetimePoints, string(c.Tier), c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving customer %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return loyalty.ErrNotFound
	}
	return nil
}

func (r *CustomerRepository) AppendTransaction(ctx context.Context, t *loyalty.Transaction) error {
	_, err := conn(ctx, r.pool).Exec(ctx, insertLoyaltyTransactionSQL,
		t.ID, t.CustomerID, string(t.Type), t.Points, t.Description, t.OrderID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending loyalty transaction for %q: %w", t.CustomerID, err)
	}
	return nil
}

func (r *CustomerRepository) History(ctx context.Context, customerID string) ([]loyalty.Transaction, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listLoyaltyTransactionsSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing loyalty transactions for %q: %w", customerID, err)
	}
	return pgx.CollectRows(rows, scanTransaction)
}

func (r *CustomerRepository) one(ctx context.Context, sql, id string) (*loyalty.Customer, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCustomer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loyalty.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	return &c, nil
}

func scanCustomer(row pgx.CollectableRow) (loyalty.Customer, error) {
	var (
		c                        loyalty.Customer
		status, tier             string
		orders, points, lifetime int32
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &status, &orders, &c.TotalSpent, &c.AverageTicket,
		&c.FirstOrderAt, &c.LastOrderAt, &points, &lifetime, &tier, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Status = loyalty.CustomerStatus(status)
	c.Tier = loyalty.Tier(tier)
	c.TotalOrders = int(orders)
	c.LoyaltyPoints = int(points)
	c.LifetimePoints = int(lifetime)
	return c, err
}

func scanTransaction(row pgx.CollectableRow) (loyalty.Transaction, error) {
	var (
		t      loyalty.Transaction
		typ    string
		points int32
	)
	err := row.Scan(&t.ID, &t.CustomerID, &typ, &points, &t.Description, &t.OrderID, &t.CreatedAt)
	t.Type = loyalty.TransactionType(typ)
	t.Points = int(points)
	return t, err
}
