package orders

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/commission"
	"github.com/solven/escrow/internal/logging"
	"github.com/solven/escrow/internal/notification"
)

func newCoordinator(t *testing.T) (*Coordinator, *notification.Recorder) {
	t.Helper()
	calc, err := commission.New(decimal.RequireFromString("0.05"))
	require.NoError(t, err)
	rec := &notification.Recorder{}
	return NewCoordinator(NewMemoryStore(), calc, rec, logging.Discard()), rec
}

func createOrder(t *testing.T, c *Coordinator) Order {
	t.Helper()
	o, err := c.Create(context.Background(), CreateInput{
		BuyerID: "buyer", SellerID: "seller", ProductID: "p1",
		Quantity: 2, UnitPrice: decimal.NewFromInt(5_000),
		DeliveryAddress: "12 Marina, Lagos", DeliveryPhone: "+2348000000001",
	})
	require.NoError(t, err)
	return o
}

func TestCreateComputesTotalAndCommission(t *testing.T) {
	c, _ := newCoordinator(t)
	o := createOrder(t, c)

	assert.Equal(t, StatusPendingPayment, o.Status)
	assert.True(t, o.TotalAmount.Equal(decimal.NewFromInt(10_000)))
	assert.True(t, o.CommissionAmount.Equal(decimal.NewFromInt(500)))
}

func TestCreateValidation(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	_, err := c.Create(ctx, CreateInput{BuyerID: "u", SellerID: "u", ProductID: "p", Quantity: 1, UnitPrice: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = c.Create(ctx, CreateInput{BuyerID: "b", SellerID: "s", ProductID: "p", Quantity: 0, UnitPrice: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = c.Create(ctx, CreateInput{BuyerID: "b", SellerID: "s", ProductID: "p", Quantity: 1, UnitPrice: decimal.Zero})
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
}

func TestApplyHappyPath(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()
	o := createOrder(t, c)

	for _, step := range []struct {
		event Event
		want  Status
	}{
		{EventEscrowCreated, StatusPaymentHeld},
		{EventDeliveryPickedUp, StatusInTransit},
		{EventDeliveryCompleted, StatusDelivered},
		{EventBuyerConfirms, StatusCompleted},
	} {
		got, err := c.Apply(ctx, o.ID, step.event)
		require.NoError(t, err, step.event)
		assert.Equal(t, step.want, got.Status)
	}

	done, err := c.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.NotNil(t, done.CompletedAt)
}

func TestApplyRejectsStaleAndDuplicateEvents(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()
	o := createOrder(t, c)

	_, err := c.Apply(ctx, o.ID, EventBuyerConfirms)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = c.Apply(ctx, o.ID, EventEscrowCreated)
	require.NoError(t, err)
	_, err = c.Apply(ctx, o.ID, EventEscrowCreated)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "duplicated delivery of the same event")

	_, err = c.Apply(ctx, "missing", EventEscrowCreated)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = c.Apply(ctx, o.ID, Event("bogus"))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestTerminalStatusesStayTerminal(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()
	o := createOrder(t, c)
	_, err := c.Apply(ctx, o.ID, EventEscrowCreated)
	require.NoError(t, err)
	_, err = c.Apply(ctx, o.ID, EventEscrowRefunded)
	require.NoError(t, err)

	for event := range transitions {
		_, err := c.Apply(ctx, o.ID, event)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "event %s on cancelled order", event)
	}
}

func TestDisputedOrderCanOnlyBeRefunded(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()
	o := createOrder(t, c)
	_, _ = c.Apply(ctx, o.ID, EventEscrowCreated)
	_, err := c.Apply(ctx, o.ID, EventEscrowDisputed)
	require.NoError(t, err)

	_, err = c.Apply(ctx, o.ID, EventEscrowReleased)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err := c.Apply(ctx, o.ID, EventEscrowRefunded)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestConcurrentEventsHaveOneWinner(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()
	o := createOrder(t, c)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Apply(ctx, o.ID, EventEscrowCreated)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestUpdateBySeller(t *testing.T) {
	c, rec := newCoordinator(t)
	ctx := context.Background()
	o := createOrder(t, c)
	_, _ = c.Apply(ctx, o.ID, EventEscrowCreated)

	_, err := c.UpdateBySeller(ctx, o.ID, "buyer", StatusShipped)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = c.UpdateBySeller(ctx, o.ID, "seller", StatusCompleted)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err := c.UpdateBySeller(ctx, o.ID, "seller", StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, got.Status)
	assert.Len(t, rec.Messages(notification.KindOrderStatus), 1)
}

func TestCancelByBuyerOnlyBeforePayment(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()
	o := createOrder(t, c)

	_, err := c.Cancel(ctx, o.ID, "seller")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	paid := createOrder(t, c)
	_, _ = c.Apply(ctx, paid.ID, EventEscrowCreated)
	_, err = c.Cancel(ctx, paid.ID, "buyer")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err := c.Cancel(ctx, o.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestParticipantScoping(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()
	o := createOrder(t, c)

	_, err := c.GetForParticipant(ctx, o.ID, "stranger")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	bought, err := c.ListForUser(ctx, "buyer", RoleBuyer)
	require.NoError(t, err)
	assert.Len(t, bought, 1)

	sold, err := c.ListForUser(ctx, "buyer", RoleSeller)
	require.NoError(t, err)
	assert.Empty(t, sold)
}
