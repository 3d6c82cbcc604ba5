package loyalty

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
)

// NewCustomer holds the input for registering a customer.
type NewCustomer struct {
	Name  string
	Email string
	Phone string
}

// Service is the loyalty ledger. Every balance mutation locks the customer
// row for the duration of its transaction, serializing concurrent updates of
// the same customer.
type Service struct {
	repo Repository
	tx   TxRunner
	now  func() time.Time
}

// NewService creates a loyalty Service.
func NewService(repo Repository, tx TxRunner) *Service {
	return &Service{repo: repo, tx: tx, now: time.Now}
}

// Register creates a customer with an empty ledger.
func (s *Service) Register(ctx context.Context, in NewCustomer) (*Customer, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("customer name is required")
	}
	if strings.TrimSpace(in.Phone) == "" && strings.TrimSpace(in.Email) == "" {
		return nil, apperr.Validation("customer phone or email is required")
	}

	now := s.now().UTC()
	c := &Customer{
		ID:            uuid.NewString(),
		Name:          name,
		Email:         strings.TrimSpace(in.Email),
		Phone:         strings.TrimSpace(in.Phone),
		Status:        CustomerActive,
		TotalSpent:    decimal.Zero,
		AverageTicket: decimal.Zero,
		Tier:          TierBronze,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateCustomer(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create customer")
	}
	return c, nil
}

// Customer returns a customer by ID.
func (s *Service) Customer(ctx context.Context, id string) (*Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// Balance returns the customer's points and tier.
func (s *Service) Balance(ctx context.Context, customerID string) (*Balance, error) {
	c, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return &Balance{
		CustomerID:     c.ID,
		Name:           c.Name,
		LoyaltyPoints:  c.LoyaltyPoints,
		LifetimePoints: c.LifetimePoints,
		Tier:           c.Tier,
	}, nil
}

// History returns the customer's ledger, newest first.
func (s *Service) History(ctx context.Context, customerID string) ([]Transaction, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	txs, err := s.repo.History(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "load history")
	}
	return txs, nil
}

// EarnPoints credits the truncated order total as points.
func (s *Service) EarnPoints(ctx context.Context, customerID string, order OrderRef) (*Transaction, error) {
	var out *Transaction
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		out, err = s.earn(ctx, c, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordOrder folds a completed order into the customer's metrics and earns
// its points, atomically.
func (s *Service) RecordOrder(ctx context.Context, customerID string, order OrderRef) (*Transaction, error) {
	var out *Transaction
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		c.recordOrder(order.Total, s.now().UTC())
		out, err = s.earn(ctx, c, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RedeemPoints debits points from the spendable balance. Lifetime points and
// tier are not affected.
func (s *Service) RedeemPoints(ctx context.Context, customerID string, points int, description string) (*Transaction, error) {
	if points <= 0 {
		return nil, apperr.Validation("points must be positive")
	}
	if strings.TrimSpace(description) == "" {
		description = fmt.Sprintf("Redeemed %d points", points)
	}

	var out *Transaction
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if err := debit(c, points); err != nil {
			return err
		}
		out, err = s.commit(ctx, c, TransactionRedeem, -points, description, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AdjustPoints applies an admin correction. Positive values credit both
// balances like an earn; negative values debit like a redemption and fail
// on insufficient balance.
func (s *Service) AdjustPoints(ctx context.Context, customerID string, points int, reason string) (*Transaction, error) {
	if points == 0 {
		return nil, apperr.Validation("adjustment must not be zero")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("adjustment reason is required")
	}

	var out *Transaction
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if points > 0 {
			c.addPoints(points)
		} else if err := debit(c, -points); err != nil {
			return err
		}
		out, err = s.commit(ctx, c, TransactionAdjustment, points, reason, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Loyalty points adjusted",
		zap.String("customer_id", customerID),
		zap.Int("points", points),
	)
	return out, nil
}

func (s *Service) earn(ctx context.Context, c *Customer, order OrderRef) (*Transaction, error) {
	points := int(order.Total.IntPart())
	if points < 0 {
		points = 0
	}
	c.addPoints(points)
	orderID := order.ID
	return s.commit(ctx, c, TransactionEarn, points, fmt.Sprintf("Points earned on order #%d", order.Number), &orderID)
}

func (s *Service) commit(
	ctx context.Context,
	c *Customer,
	typ TransactionType,
	points int,
	description string,
	orderID *string,
) (*Transaction, error) {
	now := s.now().UTC()
	c.UpdatedAt = now
	if err := s.repo.SaveCustomer(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save customer")
	}

	t := &Transaction{
		ID:          uuid.NewString(),
		CustomerID:  c.ID,
		Type:        typ,
		Points:      points,
		Description: description,
		OrderID:     orderID,
		CreatedAt:   now,
	}
	if err := s.repo.AppendTransaction(ctx, t); err != nil {
		return nil, errors.Wrap(err, "append transaction")
	}
	return t, nil
}

func debit(c *Customer, points int) error {
	if c.LoyaltyPoints < points {
		return &InsufficientBalanceError{Requested: points, Available: c.LoyaltyPoints}
	}
	c.LoyaltyPoints -= points
	return nil
}
