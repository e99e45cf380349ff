// Package gateway defines the contract of an external payment gateway and
// the wrappers the checkout uses to call one safely.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
)

// PaymentStatus as reported by a gateway.
type PaymentStatus string

const (
	StatusSuccess PaymentStatus = "success"
	StatusFailed  PaymentStatus = "failed"
	StatusPending PaymentStatus = "pending"
)

// InitializeRequest starts a payment.
type InitializeRequest struct {
	Amount    decimal.Decimal
	Email     string
	Reference string
}

// AccountDetails is a virtual bank account the payer can transfer to.
type AccountDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// InitializeResult tells the payer how to pay.
type InitializeResult struct {
	Reference        string          `json:"reference"`
	AuthorizationURL string          `json:"authorization_url,omitempty"`
	Account          *AccountDetails `json:"account,omitempty"`
}

// Verification is the gateway's view of a payment.
type Verification struct {
	Reference string          `json:"reference"`
	Status    PaymentStatus   `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
}

// WebhookEvent is a verified callback.
type WebhookEvent struct {
	Event     string          `json:"event"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Status    PaymentStatus   `json:"status"`
}

// Provider is implemented by each payment gateway integration.
// HandleWebhook must check the signature before trusting the payload and
// fail with apperr.ErrSignatureInvalid otherwise.
type Provider interface {
	Name() string
	Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error)
	Verify(ctx context.Context, reference string) (Verification, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookEvent, error)
}

// Registry looks providers up by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry builds a registry holding providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("payment gateway %q: %w", name, apperr.ErrInvalidInput)
	}
	return p, nil
}

// Names lists the registered gateways in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Info describes a gateway to clients choosing how to pay.
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Methods     []string `json:"methods"`
}

var catalog = map[string]Info{
	"paystack": {Name: "paystack", Description: "Primary", Methods: []string{"card", "bank_transfer", "ussd"}},
	"monnify":  {Name: "monnify", Description: "Alternative", Methods: []string{"card", "bank_transfer"}},
}

// Describe lists the registered gateways with their payment methods.
func (r *Registry) Describe() []Info {
	names := r.Names()
	out := make([]Info, 0, len(names))
	for _, name := range names {
		info, ok := catalog[name]
		if !ok {
			info = Info{Name: name, Methods: []string{"card"}}
		}
		out = append(out, info)
	}
	return out
}
