package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/commission"
	"github.com/solven/escrow/internal/ledger"
	"github.com/solven/escrow/internal/metrics"
	"github.com/solven/escrow/internal/notification"
	"github.com/solven/escrow/internal/orders"
	"github.com/solven/escrow/internal/syncutil"
	"github.com/solven/escrow/internal/txn"
	"github.com/solven/escrow/internal/wallet"
)

// ReleaseReferencePrefix prefixes the ledger reference of a seller payout, so
// a retried release can never credit twice.
const ReleaseReferencePrefix = "ESC_REL_"

// Orders is the slice of the order coordinator the escrow manager needs.
type Orders interface {
	Get(ctx context.Context, id string) (orders.Order, error)
	Apply(ctx context.Context, orderID string, event orders.Event) (orders.Order, error)
}

// Wallets credits seller payouts.
type Wallets interface {
	Credit(ctx context.Context, in wallet.PostingInput) (ledger.Entry, error)
}

// Service owns the escrow state machine.
type Service struct {
	store      Store
	orders     Orders
	wallets    Wallets
	commission *commission.Calculator
	tx         txn.Manager
	locks      *syncutil.KeyLock
	notifier   notification.Notifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewService builds an escrow manager.
func NewService(store Store, ord Orders, wallets Wallets, calc *commission.Calculator, tx txn.Manager,
	notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		orders:     ord,
		wallets:    wallets,
		commission: calc,
		tx:         tx,
		locks:      syncutil.NewKeyLock(),
		notifier:   notifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput describes a confirmed payment.
type CreateInput struct {
	OrderID              string
	Amount               decimal.Decimal
	Gateway              string
	PaymentReference     string
	VirtualAccountNumber string
}

// Create holds the payment for an order and moves the order to PAYMENT_HELD.
// The held amount is taken as given. A second escrow for the same order fails
// with apperr.ErrDuplicateEscrow and returns the existing one.
func (s *Service) Create(ctx context.Context, in CreateInput) (Escrow, error) {
	amount := in.Amount.RoundBank(commission.Places)
	if !amount.IsPositive() {
		return Escrow{}, fmt.Errorf("escrow amount %s: %w", in.Amount, apperr.ErrInvalidAmount)
	}
	if in.PaymentReference == "" {
		return Escrow{}, fmt.Errorf("payment reference required: %w", apperr.ErrInvalidInput)
	}

	unlock, err := s.locks.Lock(ctx, "order:"+in.OrderID)
	if err != nil {
		return Escrow{}, err
	}
	defer unlock()

	var e Escrow
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		order, err := s.orders.Get(ctx, in.OrderID)
		if err != nil {
			return err
		}
		existing, err := s.store.GetByOrder(ctx, in.OrderID)
		if err == nil {
			e = existing
			return fmt.Errorf("order %s already has escrow %s: %w", in.OrderID, existing.ID, apperr.ErrDuplicateEscrow)
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		e = Escrow{
			ID:                   uuid.NewString(),
			OrderID:              order.ID,
			BuyerID:              order.BuyerID,
			SellerID:             order.SellerID,
			Amount:               amount,
			Status:               StatusHeld,
			Gateway:              in.Gateway,
			PaymentReference:     in.PaymentReference,
			VirtualAccountNumber: in.VirtualAccountNumber,
			HeldAt:               s.now(),
		}
		if err := s.store.Create(ctx, e); err != nil {
			return err
		}
		_, err = s.orders.Apply(ctx, order.ID, orders.EventEscrowCreated)
		return err
	})
	if err != nil {
		if !errors.Is(err, apperr.ErrDuplicateEscrow) {
			e = Escrow{}
		}
		return e, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusHeld)).Inc()
	s.logger.Info("escrow.held", "escrow_id", e.ID, "order_id", e.OrderID, "amount", e.Amount.String(),
		"gateway", e.Gateway, "payment_reference", e.PaymentReference)
	s.notify(ctx, notification.KindEscrowHeld, e.SellerID,
		fmt.Sprintf("Payment for order %s is held in escrow. You can now ship.", e.OrderID))
	return e, nil
}

// Release pays the seller. Only the buyer may release, and only from HELD.
// The escrow transition, seller credit and order completion commit together.
func (s *Service) Release(ctx context.Context, escrowID, requesterID string) (commission.Breakdown, error) {
	unlock, err := s.locks.Lock(ctx, escrowID)
	if err != nil {
		return commission.Breakdown{}, err
	}
	defer unlock()

	var (
		e     Escrow
		split commission.Breakdown
	)
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, escrowID)
		if err != nil {
			return err
		}
		if current.BuyerID != requesterID {
			return fmt.Errorf("user %s may not release escrow %s: %w", requesterID, escrowID, apperr.ErrUnauthorized)
		}
		if current.Status != StatusHeld {
			return fmt.Errorf("escrow %s is %s: %w", escrowID, current.Status, apperr.ErrInvalidState)
		}
		e, split, err = s.release(ctx, current, orders.EventEscrowReleased)
		return err
	})
	if err != nil {
		return commission.Breakdown{}, err
	}
	s.released(ctx, e, split)
	return split, nil
}

// ConfirmDelivery is the buyer confirming receipt of a DELIVERED order, which
// releases its escrow and completes the order.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, buyerID string) (commission.Breakdown, error) {
	held, err := s.store.GetByOrder(ctx, orderID)
	if err != nil {
		return commission.Breakdown{}, err
	}
	unlock, err := s.locks.Lock(ctx, held.ID)
	if err != nil {
		return commission.Breakdown{}, err
	}
	defer unlock()

	var (
		e     Escrow
		split commission.Breakdown
	)
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, held.ID)
		if err != nil {
			return err
		}
		if current.BuyerID != buyerID {
			return fmt.Errorf("user %s may not confirm order %s: %w", buyerID, orderID, apperr.ErrUnauthorized)
		}
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != orders.StatusDelivered {
			return fmt.Errorf("order %s is %s, not delivered: %w", orderID, order.Status, apperr.ErrInvalidState)
		}
		if current.Status != StatusHeld {
			return fmt.Errorf("escrow %s is %s: %w", current.ID, current.Status, apperr.ErrInvalidState)
		}
		e, split, err = s.release(ctx, current, orders.EventBuyerConfirms)
		return err
	})
	if err != nil {
		return commission.Breakdown{}, err
	}
	s.released(ctx, e, split)
	return split, nil
}

// release runs inside the caller's unit of work.
func (s *Service) release(ctx context.Context, current Escrow, event orders.Event) (Escrow, commission.Breakdown, error) {
	split, err := s.commission.Split(current.Amount)
	if err != nil {
		return Escrow{}, commission.Breakdown{}, err
	}
	e, err := s.store.Transition(ctx, current.ID, []Status{StatusHeld}, StatusReleased, Resolution{At: s.now()})
	if err != nil {
		return Escrow{}, commission.Breakdown{}, err
	}

	if split.SellerAmount.IsPositive() {
		_, err = s.wallets.Credit(ctx, wallet.PostingInput{
			UserID:      e.SellerID,
			Amount:      split.SellerAmount,
			Reference:   ReleaseReferencePrefix + e.ID,
			Description: "Escrow release for order " + e.OrderID,
			Metadata: ledger.EscrowReleaseMetadata{
				EscrowID:   e.ID,
				OrderID:    e.OrderID,
				Gross:      split.Total,
				Commission: split.Commission,
				Rate:       split.Rate,
			},
		})
		if err != nil && !errors.Is(err, apperr.ErrDuplicateReference) {
			return Escrow{}, commission.Breakdown{}, fmt.Errorf("credit seller for escrow %s: %w", e.ID, err)
		}
	}

	if _, err := s.orders.Apply(ctx, e.OrderID, event); err != nil {
		return Escrow{}, commission.Breakdown{}, err
	}
	return e, split, nil
}

func (s *Service) released(ctx context.Context, e Escrow, split commission.Breakdown) {
	metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusReleased)).Inc()
	metrics.EscrowDuration.WithLabelValues(string(StatusReleased)).Observe(s.now().Sub(e.HeldAt).Seconds())
	metrics.CommissionCollected.Add(split.Commission.InexactFloat64())
	s.logger.Info("escrow.released", "escrow_id", e.ID, "order_id", e.OrderID, "total", split.Total.String(),
		"seller_amount", split.SellerAmount.String(), "commission", split.Commission.String())
	s.notify(ctx, notification.KindEscrowReleased, e.SellerID,
		fmt.Sprintf("%s released to your wallet for order %s", split.SellerAmount.StringFixed(commission.Places), e.OrderID))
}

// Refund returns the escrow to the buyer from HELD or DISPUTED and cancels the
// order. Funds go back through the payment gateway, so no wallet entry is
// written here.
func (s *Service) Refund(ctx context.Context, escrowID, requesterID, reason string) (Escrow, error) {
	return s.resolve(ctx, escrowID, requesterID, reason, []Status{StatusHeld, StatusDisputed}, StatusRefunded, orders.EventEscrowRefunded)
}

// Dispute suspends a HELD escrow until it is refunded.
func (s *Service) Dispute(ctx context.Context, escrowID, requesterID, reason string) (Escrow, error) {
	if strings.TrimSpace(reason) == "" {
		return Escrow{}, fmt.Errorf("dispute reason required: %w", apperr.ErrInvalidInput)
	}
	return s.resolve(ctx, escrowID, requesterID, reason, []Status{StatusHeld}, StatusDisputed, orders.EventEscrowDisputed)
}

func (s *Service) resolve(ctx context.Context, escrowID, requesterID, reason string, from []Status, to Status, event orders.Event) (Escrow, error) {
	unlock, err := s.locks.Lock(ctx, escrowID)
	if err != nil {
		return Escrow{}, err
	}
	defer unlock()

	var e Escrow
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, escrowID)
		if err != nil {
			return err
		}
		if _, ok := current.roleOf(requesterID); !ok {
			return fmt.Errorf("user %s on escrow %s: %w", requesterID, escrowID, apperr.ErrUnauthorized)
		}
		e, err = s.store.Transition(ctx, escrowID, from, to, Resolution{At: s.now(), Reason: reason, By: requesterID})
		if err != nil {
			return err
		}
		_, err = s.orders.Apply(ctx, e.OrderID, event)
		return err
	})
	if err != nil {
		return Escrow{}, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(to)).Inc()
	if to == StatusRefunded {
		metrics.EscrowDuration.WithLabelValues(string(to)).Observe(s.now().Sub(e.HeldAt).Seconds())
	}
	s.logger.Info("escrow."+strings.ToLower(string(to)), "escrow_id", e.ID, "order_id", e.OrderID,
		"requester_id", requesterID, "reason", reason)

	kind := notification.KindEscrowRefunded
	if to == StatusDisputed {
		kind = notification.KindEscrowDisputed
	}
	counterparty := e.SellerID
	if requesterID == e.SellerID {
		counterparty = e.BuyerID
	}
	s.notify(ctx, kind, counterparty, fmt.Sprintf("Escrow for order %s is now %s", e.OrderID, e.Status))
	return e, nil
}

// Get returns an escrow to one of its participants.
func (s *Service) Get(ctx context.Context, escrowID, requesterID string) (View, error) {
	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return View{}, err
	}
	return scoped(e, requesterID)
}

// GetByOrder returns the escrow of an order to one of its participants.
func (s *Service) GetByOrder(ctx context.Context, orderID, requesterID string) (View, error) {
	e, err := s.store.GetByOrder(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	return scoped(e, requesterID)
}

// ListForUser returns every escrow the user takes part in, with their role.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]View, error) {
	list, err := s.store.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(list))
	for _, e := range list {
		role, _ := e.roleOf(userID)
		out = append(out, View{Escrow: e, Role: role})
	}
	return out, nil
}

func scoped(e Escrow, userID string) (View, error) {
	role, ok := e.roleOf(userID)
	if !ok {
		return View{}, fmt.Errorf("user %s on escrow %s: %w", userID, e.ID, apperr.ErrUnauthorized)
	}
	return View{Escrow: e, Role: role}, nil
}

func (s *Service) notify(ctx context.Context, kind, userID, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: userID, Body: body}); err != nil {
		s.logger.Warn("notification failed", "kind", kind, "user_id", userID, "error", err)
	}
}
