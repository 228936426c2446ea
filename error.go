package paygate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInternalServer = errors.New("internal server error")

	ErrNotRegistered             = errors.New("account not registered")
	ErrPricingUnavailable        = errors.New("pricing unavailable")
	ErrRateUnavailable           = errors.New("exchange rate unavailable")
	ErrProvisioningFailed        = errors.New("deposit address provisioning failed")
	ErrReconciliationUnavailable = errors.New("reconciliation unavailable")
	ErrDownstreamFailure         = errors.New("downstream operation failed")
	ErrOverloaded                = errors.New("service overloaded")
)

type ErrBadRequest struct {
	Fields map[string]string `json:"fields"`
}

func (e ErrBadRequest) Error() string {
	return fmt.Sprintf("missing/invalid params: %v", e.Fields)
}

type ErrNotFound struct {
	ID string `json:"id"`
}

func (e ErrNotFound) Error() string {
	return "record not found"
}

type ErrUnknownOperation struct {
	Kind string
}

func (e ErrUnknownOperation) Error() string {
	return fmt.Sprintf("unknown operation %q", e.Kind)
}

type ErrMissingParameters struct {
	Names []string
}

func (e ErrMissingParameters) Error() string {
	return "missing parameters: " + strings.Join(e.Names, ", ")
}

// ErrInsufficientBalance carries the amounts of the failed check, all in
// crypto units.
type ErrInsufficientBalance struct {
	Required  decimal.Decimal
	Available decimal.Decimal
	Shortfall decimal.Decimal
}

func (e ErrInsufficientBalance) Error() string {
	return fmt.Sprintf("insufficient balance: short by %s", e.Shortfall.StringFixed(CryptoPlaces))
}
