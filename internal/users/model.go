package users

import (
	"strings"
	"time"
)

// Role is what a user mainly does on the marketplace. Any user can buy.
type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
)

// User is a registered marketplace participant, identified by phone number.
type User struct {
	ID            string
	Phone         string
	Role          Role
	FirstName     string
	LastName      string
	Email         string
	PhoneVerified bool
	Bank          BankDetails
	TokenVersion  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BankDetails is where withdrawals are paid.
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// Complete reports whether every field is set.
func (b BankDetails) Complete() bool {
	return strings.TrimSpace(b.BankName) != "" &&
		strings.TrimSpace(b.AccountNumber) != "" &&
		strings.TrimSpace(b.AccountName) != ""
}

// ContactEmail returns the user's email, or an address derived from the phone
// number for gateways that insist on one.
func (u User) ContactEmail() string {
	if u.Email != "" {
		return u.Email
	}
	return strings.TrimPrefix(u.Phone, "+") + "@solven.ng"
}
