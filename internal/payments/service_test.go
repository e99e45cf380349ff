package payments

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/commission"
	"github.com/solven/escrow/internal/escrow"
	"github.com/solven/escrow/internal/gateway"
	"github.com/solven/escrow/internal/ledger"
	"github.com/solven/escrow/internal/logging"
	"github.com/solven/escrow/internal/notification"
	"github.com/solven/escrow/internal/orders"
	"github.com/solven/escrow/internal/txn"
	"github.com/solven/escrow/internal/wallet"
)

type fixture struct {
	checkout *Checkout
	orders   *orders.Coordinator
	escrows  *escrow.Service
	paystack *gateway.Sandbox
	monnify  *gateway.Sandbox
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := logging.Discard()
	tx := txn.NewMemory()
	rec := &notification.Recorder{}
	calc, err := commission.New(decimal.RequireFromString("0.05"))
	require.NoError(t, err)

	wallets := wallet.NewService(wallet.NewMemoryRepository(), ledger.NewInMemory(), tx, rec, logger, wallet.Options{})
	coord := orders.NewCoordinator(orders.NewMemoryStore(), calc, rec, logger)
	esc := escrow.NewService(escrow.NewMemoryStore(), coord, wallets, calc, tx, rec, logger)

	paystack := gateway.NewSandbox(gateway.SandboxOptions{Name: "paystack", Secret: "ps_secret", Dialect: gateway.DialectPaystack})
	monnify := gateway.NewSandbox(gateway.SandboxOptions{Name: "monnify", Secret: "mn_secret", Dialect: gateway.DialectMonnify})
	reg := gateway.NewRegistry(paystack, monnify)

	return fixture{
		checkout: NewCheckout(NewMemoryStore(), coord, esc, reg, logger),
		orders:   coord,
		escrows:  esc,
		paystack: paystack,
		monnify:  monnify,
	}
}

func (f fixture) order(t *testing.T, price string) orders.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), orders.CreateInput{
		BuyerID: "buyer", SellerID: "seller", ProductID: "shoes",
		Quantity: 2, UnitPrice: decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return o
}

func TestInitializeRecordsPendingIntent(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, "2500")

	res, err := f.checkout.Initialize(context.Background(), InitializeInput{
		OrderID: o.ID, BuyerID: "buyer", Gateway: "paystack", Email: "buyer@solven.ng",
	})
	require.NoError(t, err)
	assert.Equal(t, IntentPending, res.Intent.Status)
	assert.True(t, res.Intent.Amount.Equal(decimal.NewFromInt(5000)))
	assert.NotEmpty(t, res.Instructions.AuthorizationURL)
	assert.Equal(t, res.Intent.AuthorizationURL, res.Instructions.AuthorizationURL)
}

func TestInitializeChecksBuyerAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "100")

	_, err := f.checkout.Initialize(ctx, InitializeInput{OrderID: o.ID, BuyerID: "seller", Gateway: "paystack"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.checkout.Initialize(ctx, InitializeInput{OrderID: o.ID, BuyerID: "buyer", Gateway: "stripe"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.orders.Cancel(ctx, o.ID, "buyer")
	require.NoError(t, err)
	_, err = f.checkout.Initialize(ctx, InitializeInput{OrderID: o.ID, BuyerID: "buyer", Gateway: "paystack"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestWebhookFundsOrderOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "2500")

	res, err := f.checkout.Initialize(ctx, InitializeInput{OrderID: o.ID, BuyerID: "buyer", Gateway: "paystack"})
	require.NoError(t, err)

	payload, sig, err := f.paystack.Settle(res.Intent.Reference)
	require.NoError(t, err)

	intent, err := f.checkout.HandleWebhook(ctx, "paystack", payload, sig)
	require.NoError(t, err)
	assert.Equal(t, IntentPaid, intent.Status)
	assert.NotEmpty(t, intent.EscrowID)

	e, err := f.escrows.GetByOrder(ctx, o.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusHeld, e.Status)
	assert.True(t, e.Amount.Equal(decimal.NewFromInt(5000)))

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaymentHeld, got.Status)

	replay, err := f.checkout.HandleWebhook(ctx, "paystack", payload, sig)
	require.NoError(t, err)
	assert.Equal(t, intent.EscrowID, replay.EscrowID)
}

func TestWebhookBadSignatureChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "100")

	res, err := f.checkout.Initialize(ctx, InitializeInput{OrderID: o.ID, BuyerID: "buyer", Gateway: "paystack"})
	require.NoError(t, err)
	payload, _, err := f.paystack.Settle(res.Intent.Reference)
	require.NoError(t, err)

	_, err = f.checkout.HandleWebhook(ctx, "paystack", payload, gateway.Sign([]byte("forged"), payload))
	assert.ErrorIs(t, err, apperr.ErrSignatureInvalid)

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingPayment, got.Status)
}

func TestWebhookOnWrongGatewayIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "100")

	res, err := f.checkout.Initialize(ctx, InitializeInput{OrderID: o.ID, BuyerID: "buyer", Gateway: "paystack"})
	require.NoError(t, err)
	_, _, err = f.paystack.Settle(res.Intent.Reference)
	require.NoError(t, err)

	// a valid monnify callback naming a paystack reference
	_, err = f.monnify.Initialize(ctx, gateway.InitializeRequest{Amount: decimal.NewFromInt(200), Reference: res.Intent.Reference})
	require.NoError(t, err)
	payload, sig, err := f.monnify.Settle(res.Intent.Reference)
	require.NoError(t, err)

	_, err = f.checkout.HandleWebhook(ctx, "monnify", payload, sig)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestVerifyMonnifyTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "750.25")

	res, err := f.checkout.Initialize(ctx, InitializeInput{OrderID: o.ID, BuyerID: "buyer", Gateway: "monnify"})
	require.NoError(t, err)
	require.NotNil(t, res.Instructions.Account)
	assert.Equal(t, res.Instructions.Account.AccountNumber, res.Intent.AccountNumber)

	intent, err := f.checkout.Verify(ctx, "monnify", res.Intent.Reference, "buyer")
	require.NoError(t, err)
	assert.Equal(t, IntentPending, intent.Status)

	_, _, err = f.monnify.Settle(res.Intent.Reference)
	require.NoError(t, err)

	intent, err = f.checkout.Verify(ctx, "monnify", res.Intent.Reference, "buyer")
	require.NoError(t, err)
	assert.Equal(t, IntentPaid, intent.Status)

	e, err := f.escrows.GetByOrder(ctx, o.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, res.Intent.AccountNumber, e.VirtualAccountNumber)
}

func TestVerifyIsScopedToBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "500")

	res, err := f.checkout.Initialize(ctx, InitializeInput{OrderID: o.ID, BuyerID: "buyer", Gateway: "paystack"})
	require.NoError(t, err)
	_, _, err = f.paystack.Settle(res.Intent.Reference)
	require.NoError(t, err)

	for _, who := range []string{"seller", "stranger"} {
		_, err = f.checkout.Verify(ctx, "paystack", res.Intent.Reference, who)
		assert.ErrorIs(t, err, apperr.ErrNotFound, who)
	}
	_, err = f.escrows.GetByOrder(ctx, o.ID, "buyer")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	intent, err := f.checkout.Verify(ctx, "paystack", res.Intent.Reference, "buyer")
	require.NoError(t, err)
	assert.Equal(t, IntentPaid, intent.Status)
}

func TestAmountMismatchDoesNotFund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "1000")

	res, err := f.checkout.Initialize(ctx, InitializeInput{OrderID: o.ID, BuyerID: "buyer", Gateway: "paystack"})
	require.NoError(t, err)

	// the gateway reports a smaller amount than the order total
	_, err = f.checkout.settle(ctx, res.Intent, gateway.StatusSuccess, decimal.NewFromInt(999))
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	_, err = f.escrows.GetByOrder(ctx, o.ID, "buyer")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFailedPaymentMarksIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "100")

	res, err := f.checkout.Initialize(ctx, InitializeInput{OrderID: o.ID, BuyerID: "buyer", Gateway: "paystack"})
	require.NoError(t, err)
	payload, sig, err := f.paystack.Fail(res.Intent.Reference)
	require.NoError(t, err)

	intent, err := f.checkout.HandleWebhook(ctx, "paystack", payload, sig)
	require.NoError(t, err)
	assert.Equal(t, IntentFailed, intent.Status)

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingPayment, got.Status)
}

func TestConcurrentWebhookAndVerifyCreateOneEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "300")

	res, err := f.checkout.Initialize(ctx, InitializeInput{OrderID: o.ID, BuyerID: "buyer", Gateway: "paystack"})
	require.NoError(t, err)
	payload, sig, err := f.paystack.Settle(res.Intent.Reference)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := f.checkout.HandleWebhook(ctx, "paystack", payload, sig)
				errs <- err
				return
			}
			_, err := f.checkout.Verify(ctx, "paystack", res.Intent.Reference, "buyer")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	list, err := f.escrows.ListForUser(ctx, "buyer")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGatewaysAreDescribed(t *testing.T) {
	f := newFixture(t)
	infos := f.checkout.Gateways()
	require.Len(t, infos, 2)
	assert.Equal(t, "monnify", infos[0].Name)
	assert.Equal(t, "Primary", infos[1].Description)
	assert.Contains(t, infos[1].Methods, "ussd")
}
