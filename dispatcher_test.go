package paygate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arhyth/paygate"
	"github.com/arhyth/paygate/mocks"
)

func newDispatcher(t *testing.T) (*mocks.MockService, *mocks.MockOperator, *paygate.Dispatcher) {
	t.Helper()
	log := zerolog.Nop()
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	op := mocks.NewMockOperator(ctrl)
	catalog, err := paygate.NewCatalog(paygate.DefaultCatalog())
	require.NoError(t, err)
	return svc, op, paygate.NewDispatcher(svc, catalog, op, paygate.Units{Crypto: "BTC", Fiat: "USD"}, &log)
}

func cmd(text string) paygate.Command {
	return paygate.Command{ChatID: 100, UserID: testAcct, Text: text}
}

func TestDispatcherBasics(t *testing.T) {
	ctx := context.Background()

	t.Run("/start lists the operations with their prices", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		_, _, disp := newDispatcher(tt)

		msgs := disp.Handle(ctx, cmd("/start"))
		reqrd.Len(msgs, 1)
		as.Equal(int64(100), msgs[0].ChatID)
		as.Contains(msgs[0].Text, "/register")
		as.Contains(msgs[0].Text, "/dl - Directory listing lookup ($10.00)")
	})

	t.Run("unknown commands get a fallback", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		_, _, disp := newDispatcher(tt)

		for _, text := range []string{"/nope", "hello", ""} {
			msgs := disp.Handle(ctx, cmd(text))
			reqrd.Len(msgs, 1)
			as.Contains(msgs[0].Text, "I don't understand")
		}
	})

	t.Run("/register shows the deposit address", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc, _, disp := newDispatcher(tt)
		svc.EXPECT().
			Register(gomock.Any(), paygate.RegisterReq{AcctID: testAcct}).
			Return(&paygate.Registration{Account: &paygate.Account{ID: testAcct, DepositAddress: testAddress}}, nil)

		msgs := disp.Handle(ctx, cmd("/register@PayGateBot"))
		reqrd.Len(msgs, 1)
		as.Contains(msgs[0].Text, "Registration successful")
		as.Contains(msgs[0].Text, testAddress)
	})

	t.Run("/register tells a registered user", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc, _, disp := newDispatcher(tt)
		svc.EXPECT().
			Register(gomock.Any(), gomock.Any()).
			Return(&paygate.Registration{Account: &paygate.Account{ID: testAcct, DepositAddress: testAddress}, AlreadyRegistered: true}, nil)

		msgs := disp.Handle(ctx, cmd("/register"))
		reqrd.Len(msgs, 1)
		as.Contains(msgs[0].Text, "already registered")
	})

	t.Run("/register reports a provisioning failure", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc, _, disp := newDispatcher(tt)
		svc.EXPECT().
			Register(gomock.Any(), gomock.Any()).
			Return(nil, paygate.ErrProvisioningFailed)

		msgs := disp.Handle(ctx, cmd("/register"))
		reqrd.Len(msgs, 1)
		as.Contains(msgs[0].Text, "Registration failed")
	})

	t.Run("/myprofile shows balance and fiat value", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc, _, disp := newDispatcher(tt)
		fiat := decimal.RequireFromString("15")
		svc.EXPECT().
			Profile(gomock.Any(), paygate.ProfileReq{AcctID: testAcct}).
			Return(&paygate.Profile{
				AcctID:         testAcct,
				DepositAddress: testAddress,
				Balance:        decimal.RequireFromString("0.0003"),
				FiatValue:      &fiat,
				UsageCount:     1,
			}, nil)

		msgs := disp.Handle(ctx, cmd("/myprofile"))
		reqrd.Len(msgs, 1)
		as.Contains(msgs[0].Text, "Balance: 0.00030000 BTC (≈ $15.00 USD)")
		as.Contains(msgs[0].Text, "Credits used: 1")
		as.NotContains(msgs[0].Text, "out of date")
	})

	t.Run("/myprofile without a rate or fresh balance", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc, _, disp := newDispatcher(tt)
		svc.EXPECT().
			Profile(gomock.Any(), gomock.Any()).
			Return(&paygate.Profile{AcctID: testAcct, Balance: decimal.Zero, Stale: true}, nil)

		msgs := disp.Handle(ctx, cmd("/myprofile"))
		reqrd.Len(msgs, 1)
		as.Contains(msgs[0].Text, "unknown USD")
		as.Contains(msgs[0].Text, "out of date")
	})

	t.Run("/myprofile for an unregistered user", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc, _, disp := newDispatcher(tt)
		svc.EXPECT().
			Profile(gomock.Any(), gomock.Any()).
			Return(nil, paygate.ErrNotRegistered)

		msgs := disp.Handle(ctx, cmd("/myprofile"))
		reqrd.Len(msgs, 1)
		as.Contains(msgs[0].Text, "/register")
	})
}

func TestDispatcherOperations(t *testing.T) {
	ctx := context.Background()
	quote, err := paygate.NewPriceQuote(decimal.NewFromInt(10), decimal.NewFromInt(50000))
	require.NoError(t, err)
	chargeID := snowflake.ID(1834563581361305763)

	t.Run("a bare operation shows its price without authorizing", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc, _, disp := newDispatcher(tt)
		svc.EXPECT().Authorize(gomock.Any(), gomock.Any()).Times(0)

		msgs := disp.Handle(ctx, cmd("/dl"))
		reqrd.Len(msgs, 1)
		as.Contains(msgs[0].Text, "Price: $10.00")
		as.Contains(msgs[0].Text, "name, city, state")
	})

	t.Run("an admitted operation runs downstream with only its parameters", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc, op, disp := newDispatcher(tt)
		svc.EXPECT().
			Authorize(gomock.Any(), paygate.ChargeReq{
				AcctID: testAcct,
				Kind:   "dl",
				Params: map[string]string{"name": "John Doe", "city": "Austin", "state": "TX", "extra": "x"},
			}).
			Return(&paygate.ChargeAttempt{ID: chargeID, Quote: &quote, Outcome: paygate.Admitted{Amount: quote.Crypto}}, nil)
		op.EXPECT().
			Execute(gomock.Any(), "dl", map[string]string{"name": "John Doe", "city": "Austin", "state": "TX"}).
			Return(&paygate.Result{Kind: "dl", Fields: map[string]string{"phone": "555-0100"}}, nil)

		msgs := disp.Handle(ctx, cmd("/DL name=John Doe city=Austin state=TX extra=x"))
		reqrd.Len(msgs, 2)
		as.Contains(msgs[0].Text, "Processing")
		as.Contains(msgs[1].Text, "phone: 555-0100")
		as.Contains(msgs[1].Text, chargeID.String())
	})

	t.Run("a failed downstream call reports the charge id", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc, op, disp := newDispatcher(tt)
		svc.EXPECT().
			Authorize(gomock.Any(), gomock.Any()).
			Return(&paygate.ChargeAttempt{ID: chargeID, Quote: &quote, Outcome: paygate.Admitted{Amount: quote.Crypto}}, nil)
		op.EXPECT().
			Execute(gomock.Any(), "dl", gomock.Any()).
			Return(nil, paygate.ErrDownstreamFailure)

		msgs := disp.Handle(ctx, cmd("/dl name=a city=b state=c"))
		reqrd.Len(msgs, 2)
		as.Contains(msgs[1].Text, "failed")
		as.Contains(msgs[1].Text, chargeID.String())
	})

	t.Run("rejections never reach downstream", func(tt *testing.T) {
		cases := []struct {
			name   string
			reason error
			want   string
		}{
			{"not registered", paygate.ErrNotRegistered, "Account required"},
			{"missing parameters", paygate.ErrMissingParameters{Names: []string{"state"}}, "Missing required parameters: state"},
			{"pricing unavailable", paygate.ErrPricingUnavailable, "exchange rate"},
			{"insufficient balance", paygate.ErrInsufficientBalance{
				Required:  quote.Crypto,
				Available: decimal.RequireFromString("0.0001"),
				Shortfall: decimal.RequireFromString("0.0001"),
			}, "You need 0.00010000 BTC more (≈ $5.00)"},
		}
		for _, c := range cases {
			as := assert.New(tt)
			reqrd := require.New(tt)
			svc, op, disp := newDispatcher(tt)
			svc.EXPECT().
				Authorize(gomock.Any(), gomock.Any()).
				Return(&paygate.ChargeAttempt{Quote: &quote, Outcome: paygate.Rejected{Reason: c.reason}}, nil)
			op.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

			msgs := disp.Handle(ctx, cmd("/dl name=a city=b"))
			reqrd.Len(msgs, 1, c.name)
			as.Contains(msgs[0].Text, c.want, c.name)
		}
	})

	t.Run("service errors get a generic reply", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc, _, disp := newDispatcher(tt)
		svc.EXPECT().
			Authorize(gomock.Any(), gomock.Any()).
			Return(nil, errors.New("db down"))

		msgs := disp.Handle(ctx, cmd("/wx city=Austin state=TX"))
		reqrd.Len(msgs, 1)
		as.Contains(msgs[0].Text, "An error occurred")
	})
}
