package paygate

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

// NewBreakerSettings trips after cfg.MaxFailures consecutive failures. An
// open breaker surfaces as gobreaker.ErrOpenState from the wrapped call.
func NewBreakerSettings(name string, cfg BreakerConfig, log *zerolog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
}

type breakerRateSource struct {
	next RateSource
	cb   *gobreaker.CircuitBreaker[decimal.Decimal]
}

var (
	_ RateSource = (*breakerRateSource)(nil)
)

func NewBreakerRateSource(next RateSource, st gobreaker.Settings) RateSource {
	return &breakerRateSource{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[decimal.Decimal](st),
	}
}

func (b *breakerRateSource) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	return b.cb.Execute(func() (decimal.Decimal, error) {
		return b.next.FetchRate(ctx)
	})
}

type breakerLedgerFeed struct {
	next   LedgerFeed
	issue  *gobreaker.CircuitBreaker[string]
	txlist *gobreaker.CircuitBreaker[[]FeedTx]
}

var (
	_ LedgerFeed = (*breakerLedgerFeed)(nil)
)

func NewBreakerLedgerFeed(next LedgerFeed, st gobreaker.Settings) LedgerFeed {
	issueSt := st
	issueSt.Name = st.Name + "-issue"
	txSt := st
	txSt.Name = st.Name + "-transactions"
	return &breakerLedgerFeed{
		next:   next,
		issue:  gobreaker.NewCircuitBreaker[string](issueSt),
		txlist: gobreaker.NewCircuitBreaker[[]FeedTx](txSt),
	}
}

func (b *breakerLedgerFeed) IssueAddress(ctx context.Context) (string, error) {
	return b.issue.Execute(func() (string, error) {
		return b.next.IssueAddress(ctx)
	})
}

func (b *breakerLedgerFeed) FetchTransactions(ctx context.Context, address string) ([]FeedTx, error) {
	return b.txlist.Execute(func() ([]FeedTx, error) {
		return b.next.FetchTransactions(ctx, address)
	})
}

type breakerOperator struct {
	next Operator
	cb   *gobreaker.CircuitBreaker[*Result]
}

var (
	_ Operator = (*breakerOperator)(nil)
)

func NewBreakerOperator(next Operator, st gobreaker.Settings) Operator {
	return &breakerOperator{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[*Result](st),
	}
}

func (b *breakerOperator) Execute(ctx context.Context, kind string, params map[string]string) (*Result, error) {
	return b.cb.Execute(func() (*Result, error) {
		return b.next.Execute(ctx, kind, params)
	})
}

type breakerMessenger struct {
	next Messenger
	cb   *gobreaker.CircuitBreaker[struct{}]
}

var (
	_ Messenger = (*breakerMessenger)(nil)
)

func NewBreakerMessenger(next Messenger, st gobreaker.Settings) Messenger {
	return &breakerMessenger{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[struct{}](st),
	}
}

func (b *breakerMessenger) Send(ctx context.Context, msg Message) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Send(ctx, msg)
	})
	return err
}
