package paygate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/arhyth/paygate"
	"github.com/arhyth/paygate/mocks"
)

func TestBreakers(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()
	st := paygate.NewBreakerSettings("test", paygate.BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute}, &log)

	t.Run("rate source opens after consecutive failures", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		src := mocks.NewMockRateSource(ctrl)
		src.EXPECT().
			FetchRate(gomock.Any()).
			Return(decimal.Zero, errors.New("boom")).
			Times(2)
		b := paygate.NewBreakerRateSource(src, st)

		_, err := b.FetchRate(ctx)
		as.Error(err)
		_, err = b.FetchRate(ctx)
		as.Error(err)
		_, err = b.FetchRate(ctx)
		as.ErrorIs(err, gobreaker.ErrOpenState)
	})

	t.Run("an open rate breaker still surfaces as pricing unavailable", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		src := mocks.NewMockRateSource(ctrl)
		src.EXPECT().FetchRate(gomock.Any()).Return(decimal.Zero, errors.New("boom")).Times(2)
		rates := paygate.NewRateProvider(paygate.NewBreakerRateSource(src, st), time.Second, &log)

		for i := 0; i < 3; i++ {
			_, err := rates.CurrentRate(ctx)
			as.ErrorIs(err, paygate.ErrRateUnavailable)
		}
	})

	t.Run("ledger feed breakers trip independently", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		feed := mocks.NewMockLedgerFeed(ctrl)
		feed.EXPECT().
			FetchTransactions(gomock.Any(), gomock.Any()).
			Return(nil, errors.New("boom")).
			Times(2)
		feed.EXPECT().IssueAddress(gomock.Any()).Return(testAddress, nil)
		b := paygate.NewBreakerLedgerFeed(feed, st)

		for i := 0; i < 2; i++ {
			_, err := b.FetchTransactions(ctx, testAddress)
			as.Error(err)
		}
		_, err := b.FetchTransactions(ctx, testAddress)
		as.ErrorIs(err, gobreaker.ErrOpenState)

		addr, err := b.IssueAddress(ctx)
		as.NoError(err)
		as.Equal(testAddress, addr)
	})

	t.Run("operator and messenger pass results through", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		op := mocks.NewMockOperator(ctrl)
		op.EXPECT().
			Execute(gomock.Any(), "dl", gomock.Any()).
			Return(&paygate.Result{Kind: "dl"}, nil)
		msgr := mocks.NewMockMessenger(ctrl)
		msgr.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)

		res, err := paygate.NewBreakerOperator(op, st).Execute(ctx, "dl", nil)
		as.NoError(err)
		as.Equal("dl", res.Kind)
		as.NoError(paygate.NewBreakerMessenger(msgr, st).Send(ctx, paygate.Message{ChatID: 1, Text: "x"}))
	})
}
