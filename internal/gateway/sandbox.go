package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
)

// Dialect selects the webhook payload shape a sandbox speaks.
type Dialect int

const (
	// DialectPaystack: {"event", "data": {"reference", "amount" in kobo, "status"}}.
	DialectPaystack Dialect = iota
	// DialectMonnify: {"eventType", "eventData": {"paymentReference", "amountPaid", "paymentStatus"}},
	// paid by transfer to a virtual account.
	DialectMonnify
)

// SandboxOptions configures a Sandbox.
type SandboxOptions struct {
	Name        string
	Secret      string
	Dialect     Dialect
	CheckoutURL string
}

type sandboxPayment struct {
	amount  decimal.Decimal
	status  PaymentStatus
	paidAt  *time.Time
	account *AccountDetails
}

// Sandbox is an in-process gateway for development and tests. Payments stay
// pending until Settle or Fail is called.
type Sandbox struct {
	name        string
	secret      []byte
	dialect     Dialect
	checkoutURL string

	mu       sync.Mutex
	payments map[string]*sandboxPayment
	now      func() time.Time
}

// NewSandbox builds a sandbox provider.
func NewSandbox(opts SandboxOptions) *Sandbox {
	checkout := opts.CheckoutURL
	if checkout == "" {
		checkout = "https://sandbox.invalid/" + opts.Name + "/checkout"
	}
	return &Sandbox{
		name:        opts.Name,
		secret:      []byte(opts.Secret),
		dialect:     opts.Dialect,
		checkoutURL: strings.TrimRight(checkout, "/"),
		payments:    make(map[string]*sandboxPayment),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Name implements Provider.
func (s *Sandbox) Name() string { return s.name }

// Initialize implements Provider. Initializing a known reference again
// returns the same instructions.
func (s *Sandbox) Initialize(_ context.Context, req InitializeRequest) (InitializeResult, error) {
	if !req.Amount.IsPositive() {
		return InitializeResult{}, fmt.Errorf("amount %s: %w", req.Amount, apperr.ErrInvalidAmount)
	}
	if req.Reference == "" {
		return InitializeResult{}, fmt.Errorf("reference required: %w", apperr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[req.Reference]
	if !ok {
		p = &sandboxPayment{amount: req.Amount, status: StatusPending}
		if s.dialect == DialectMonnify {
			p.account = &AccountDetails{
				BankName:      "Sandbox Bank",
				AccountNumber: virtualAccountNumber(req.Reference),
				AccountName:   "Solven Escrow / " + req.Email,
			}
		}
		s.payments[req.Reference] = p
	}

	res := InitializeResult{Reference: req.Reference, Account: p.account}
	if s.dialect == DialectPaystack {
		res.AuthorizationURL = s.checkoutURL + "/" + req.Reference
	}
	return res, nil
}

// Verify implements Provider.
func (s *Sandbox) Verify(_ context.Context, reference string) (Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	if !ok {
		return Verification{}, fmt.Errorf("payment %s: %w", reference, apperr.ErrNotFound)
	}
	return Verification{Reference: reference, Status: p.status, Amount: p.amount, PaidAt: p.paidAt}, nil
}

// Settle marks the payment paid and returns the signed webhook the gateway
// would deliver.
func (s *Sandbox) Settle(reference string) (payload []byte, signature string, err error) {
	return s.complete(reference, StatusSuccess)
}

// Fail marks the payment failed and returns the signed webhook.
func (s *Sandbox) Fail(reference string) (payload []byte, signature string, err error) {
	return s.complete(reference, StatusFailed)
}

func (s *Sandbox) complete(reference string, status PaymentStatus) ([]byte, string, error) {
	s.mu.Lock()
	p, ok := s.payments[reference]
	if ok {
		p.status = status
		if status == StatusSuccess {
			at := s.now()
			p.paidAt = &at
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("payment %s: %w", reference, apperr.ErrNotFound)
	}

	payload, err := s.encode(reference, p.amount, status)
	if err != nil {
		return nil, "", err
	}
	return payload, Sign(s.secret, payload), nil
}

// HandleWebhook implements Provider.
func (s *Sandbox) HandleWebhook(_ context.Context, payload []byte, signature string) (WebhookEvent, error) {
	if err := VerifySignature(s.secret, payload, signature); err != nil {
		return WebhookEvent{}, err
	}
	if s.dialect == DialectMonnify {
		return decodeMonnify(payload)
	}
	return decodePaystack(payload)
}

type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Status    string `json:"status"`
	} `json:"data"`
}

type monnifyWebhook struct {
	EventType string `json:"eventType"`
	EventData struct {
		PaymentReference string          `json:"paymentReference"`
		AmountPaid       decimal.Decimal `json:"amountPaid"`
		PaymentStatus    string          `json:"paymentStatus"`
	} `json:"eventData"`
}

func (s *Sandbox) encode(reference string, amount decimal.Decimal, status PaymentStatus) ([]byte, error) {
	if s.dialect == DialectMonnify {
		var w monnifyWebhook
		w.EventType = "SUCCESSFUL_TRANSACTION"
		w.EventData.PaymentStatus = "PAID"
		if status == StatusFailed {
			w.EventType = "FAILED_TRANSACTION"
			w.EventData.PaymentStatus = "FAILED"
		}
		w.EventData.PaymentReference = reference
		w.EventData.AmountPaid = amount
		return json.Marshal(w)
	}

	var w paystackWebhook
	w.Event = "charge.success"
	if status == StatusFailed {
		w.Event = "charge.failed"
	}
	w.Data.Reference = reference
	w.Data.Amount = amount.Shift(2).IntPart()
	w.Data.Status = string(status)
	return json.Marshal(w)
}

func decodePaystack(payload []byte) (WebhookEvent, error) {
	var w paystackWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %v: %w", err, apperr.ErrInvalidInput)
	}
	status := StatusPending
	switch w.Data.Status {
	case "success":
		status = StatusSuccess
	case "failed", "abandoned", "reversed":
		status = StatusFailed
	}
	return WebhookEvent{
		Event:     w.Event,
		Reference: w.Data.Reference,
		Amount:    decimal.New(w.Data.Amount, -2),
		Status:    status,
	}, nil
}

func decodeMonnify(payload []byte) (WebhookEvent, error) {
	var w monnifyWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %v: %w", err, apperr.ErrInvalidInput)
	}
	status := StatusPending
	switch w.EventData.PaymentStatus {
	case "PAID", "OVERPAID":
		status = StatusSuccess
	case "FAILED", "EXPIRED", "CANCELLED":
		status = StatusFailed
	}
	return WebhookEvent{
		Event:     w.EventType,
		Reference: w.EventData.PaymentReference,
		Amount:    w.EventData.AmountPaid,
		Status:    status,
	}, nil
}

func virtualAccountNumber(reference string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(reference))
	return fmt.Sprintf("%010d", h.Sum64()%10_000_000_000)
}
