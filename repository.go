package paygate

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=repository.go -destination=mocks/repository.go -package=mocks

const (
	// CryptoPlaces is the number of fractional digits of one crypto unit,
	// i.e. one subunit is 10^-CryptoPlaces units.
	CryptoPlaces = 8

	// ConfirmationThreshold is the default number of confirmations after
	// which a transaction counts towards the balance.
	ConfirmationThreshold = 6
)

// Account is the per-user record. ConfirmedSum is recomputed from the
// ledger feed on every reconciliation; PendingDebits holds charges that are
// not reflected on-chain yet and is netted against it.
type Account struct {
	ID             string
	DepositAddress string
	ConfirmedSum   decimal.Decimal
	PendingDebits  decimal.Decimal
	UsageCount     int64
	KnownTxs       map[string]decimal.Decimal
	CreatedAt      time.Time
	ReconciledAt   time.Time
}

func (a *Account) Registered() bool {
	return a.DepositAddress != ""
}

// Available returns ConfirmedSum - PendingDebits, floored at zero.
func (a *Account) Available() decimal.Decimal {
	avail := a.ConfirmedSum.Sub(a.PendingDebits)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

func (a *Account) clone() *Account {
	c := *a
	c.KnownTxs = make(map[string]decimal.Decimal, len(a.KnownTxs))
	for k, v := range a.KnownTxs {
		c.KnownTxs[k] = v
	}
	return &c
}

// Charge is the persisted record of an admitted charge attempt.
type Charge struct {
	ID        snowflake.ID
	AcctID    string
	Kind      string
	Amount    decimal.Decimal
	FiatPrice decimal.Decimal
	Rate      decimal.Decimal
	CreatedAt time.Time
}

type AccountStore interface {
	// CreateAccount returns the existing account when id is already known.
	CreateAccount(ctx context.Context, id string) (*Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	// UpdateAccount applies fn to the account atomically. Nothing is
	// written when fn returns an error.
	UpdateAccount(ctx context.Context, id string, fn func(*Account) error) (*Account, error)
	// ApplyCharge adds the charge amount to the pending debits, bumps the
	// usage counter and records the charge. It fails with
	// ErrInsufficientBalance when the available balance does not cover it.
	ApplyCharge(ctx context.Context, charge Charge) (*Account, error)
	ListCharges(ctx context.Context, id string) ([]Charge, error)
}

// applyCharge is the balance check and mutation shared by the stores.
func applyCharge(acct *Account, charge Charge) error {
	avail := acct.Available()
	if avail.LessThan(charge.Amount) {
		return ErrInsufficientBalance{
			Required:  charge.Amount,
			Available: avail,
			Shortfall: charge.Amount.Sub(avail),
		}
	}
	acct.PendingDebits = acct.PendingDebits.Add(charge.Amount)
	acct.UsageCount++
	return nil
}
