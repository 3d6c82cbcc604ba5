package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardapiopro/cardapio-api/internal/domain/order"
)

const (
	nextOrderNumberSQL = `SELECT nextval('order_number_seq')`

	orderColumns = `id, order_number, customer_id, customer_name, customer_phone, customer_email,
		delivery_address, delivery_complement, delivery_neighborhood, order_type, status,
		payment_method, payment_status, subtotal, delivery_fee, discount, total, change_for,
		coupon_id, coupon_code, notes, estimated_time, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22, $23, $24)`

	insertOrderItemSQL = `INSERT INTO order_items
		(id, order_id, position, product_id, product_name, quantity, unit_price, notes, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertOrderItemAddonSQL = `INSERT INTO order_item_addons
		(id, item_id, position, addon_id, addon_name, quantity, price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`
	getOrderByNumberSQL  = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

	listOrderItemsSQL = `SELECT order_id, id, product_id, product_name, quantity, unit_price, notes, subtotal
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	listOrderItemAddonsSQL = `SELECT item_id, id, addon_id, addon_name, quantity, price
		FROM order_item_addons WHERE item_id = ANY($1) ORDER BY item_id, position`

	updateOrderStateSQL = `UPDATE orders SET status = $2, payment_status = $3, notes = $4, updated_at = $5
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// NextNumber draws the next order number from order_number_seq.
func (r *OrderRepository) NextNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := conn(ctx, r.pool).QueryRow(ctx, nextOrderNumberSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("drawing order number: %w", err)
	}
	return n, nil
}

// Create persists the order, its items and their addons in one batch.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	b := &pgx.Batch{}
	b.Queue(insertOrderSQL,
		o.ID, o.Number, o.CustomerID, o.CustomerName, o.CustomerPhone, o.CustomerEmail,
		o.DeliveryAddress, o.DeliveryComplement, o.DeliveryNeighborhood, string(o.Type), string(o.Status),
		string(o.PaymentMethod), string(o.PaymentStatus), o.Subtotal, o.DeliveryFee, o.Discount, o.Total, o.ChangeFor,
		o.CouponID, o.CouponCode, o.Notes, o.EstimatedTime, o.CreatedAt, o.UpdatedAt,
	)
	for i, item := range o.Items {
		b.Queue(insertOrderItemSQL,
			item.ID, o.ID, i, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Notes, item.Subtotal,
		)
		for j, a := range item.Addons {
			b.Queue(insertOrderItemAddonSQL, a.ID, item.ID, j, a.AddonID, a.AddonName, a.Quantity, a.Price)
		}
	}

	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, getOrderSQL, id)
}

// GetForUpdate returns an order and locks its row until the surrounding
// transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, getOrderForUpdateSQL, id)
}

// GetByNumber returns an order by its sequential number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number int64) (*order.Order, error) {
	return r.one(ctx, getOrderByNumberSQL, number)
}

// List returns the orders matching f, newest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	sql, args := listOrdersQuery(f)
	q := conn(ctx, r.pool)

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateState persists the mutable lifecycle fields of o.
func (r *OrderRepository) UpdateState(ctx context.Context, o *order.Order) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateOrderStateSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), o.Notes, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) one(ctx context.Context, sql string, arg any) (*order.Order, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %v: %w", arg, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %v: %w", arg, err)
	}

	orders := []order.Order{o}
	if err := attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func listOrdersQuery(f order.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if len(f.ExcludeStatus) > 0 {
		excluded := make([]string, len(f.ExcludeStatus))
		for i, s := range f.ExcludeStatus {
			excluded[i] = string(s)
		}
		add("status <> ALL($%d)", excluded)
	}
	if f.CustomerPhone != "" {
		add("customer_phone = $%d", f.CustomerPhone)
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", *f.CreatedAfter)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + orderColumns + " FROM orders")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC, order_number DESC")
	return sb.String(), args
}

// attachItems loads the items and addons of orders in two queries.
func attachItems(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*order.Order, len(orders))
	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := q.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	itemIDs := make([]string, len(items))
	for i, it := range items {
		itemIDs[i] = it.ID
	}
	rows, err = q.Query(ctx, listOrderItemAddonsSQL, itemIDs)
	if err != nil {
		return fmt.Errorf("listing order item addons: %w", err)
	}
	addons, err := pgx.CollectRows(rows, scanOrderItemAddon)
	if err != nil {
		return fmt.Errorf("listing order item addons: %w", err)
	}
	addonsByItem := make(map[string][]order.ItemAddon)
	for _, a := range addons {
		addonsByItem[a.itemID] = append(addonsByItem[a.itemID], a.ItemAddon)
	}

	for _, it := range items {
		it.Addons = addonsByItem[it.ID]
		o := byID[it.orderID]
		o.Items = append(o.Items, it.Item)
	}
	return nil
}

type itemRow struct {
	orderID string
	order.Item
}

type addonRow struct {
	itemID string
	order.ItemAddon
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                 order.Order
		orderType, status, method, paySts string
		estimated                         int32
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.CustomerName, &o.CustomerPhone, &o.CustomerEmail,
		&o.DeliveryAddress, &o.DeliveryComplement, &o.DeliveryNeighborhood, &orderType, &status,
		&method, &paySts, &o.Subtotal, &o.DeliveryFee, &o.Discount, &o.Total, &o.ChangeFor,
		&o.CouponID, &o.CouponCode, &o.Notes, &estimated, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Type = order.Type(orderType)
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(method)
	o.PaymentStatus = order.PaymentStatus(paySts)
	o.EstimatedTime = int(estimated)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (itemRow, error) {
	var (
		it  itemRow
		qty int32
	)
	err := row.Scan(&it.orderID, &it.ID, &it.ProductID, &it.ProductName, &qty, &it.UnitPrice, &it.Notes, &it.Subtotal)
	it.Quantity = int(qty)
	return it, err
}

func scanOrderItemAddon(row pgx.CollectableRow) (addonRow, error) {
	var (
		a   addonRow
		qty int32
	)
	err := row.Scan(&a.itemID, &a.ID, &a.AddonID, &a.AddonName, &qty, &a.Price)
	a.Quantity = int(qty)
	return a, err
}
