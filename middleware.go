package paygate

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

var (
	_ Service = (*validationMiddleware)(nil)
)

type Middleware func(Service) Service

// Chain wraps svc so that the first middleware is the outermost.
func Chain(svc Service, mws ...Middleware) Service {
	for i := len(mws) - 1; i >= 0; i-- {
		svc = mws[i](svc)
	}
	return svc
}

type validationMiddleware struct {
	next Service
}

func NewValidationMiddleware() Middleware {
	return func(svc Service) Service {
		return &validationMiddleware{
			next: svc,
		}
	}
}

func validAcctID(id string) bool {
	return strings.TrimSpace(id) != "" && strings.TrimSpace(id) == id
}

func (v *validationMiddleware) Register(ctx context.Context, req RegisterReq) (*Registration, error) {
	if !validAcctID(req.AcctID) {
		return nil, ErrBadRequest{Fields: map[string]string{"acctID": "missing or invalid"}}
	}
	return v.next.Register(ctx, req)
}

func (v *validationMiddleware) Profile(ctx context.Context, req ProfileReq) (*Profile, error) {
	if !validAcctID(req.AcctID) {
		return nil, ErrBadRequest{Fields: map[string]string{"acctID": "missing or invalid"}}
	}
	return v.next.Profile(ctx, req)
}

func (v *validationMiddleware) Authorize(ctx context.Context, req ChargeReq) (*ChargeAttempt, error) {
	fields := map[string]string{}
	if !validAcctID(req.AcctID) {
		fields["acctID"] = "missing or invalid"
	}
	if strings.TrimSpace(req.Kind) == "" {
		fields["kind"] = "missing"
	}
	if len(fields) > 0 {
		return nil, ErrBadRequest{Fields: fields}
	}
	if req.Params == nil {
		req.Params = map[string]string{}
	}
	return v.next.Authorize(ctx, req)
}

func (v *validationMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	if !validAcctID(req.AcctID) {
		return ErrBadRequest{Fields: map[string]string{"acctID": "missing or invalid"}}
	}
	return v.next.Statement(ctx, w, req)
}

//
// Rate limiting middlewares
//

// limitMiddleware limits the number of in-flight requests to the service by using
// a weighted semaphore, i.e., x/sync/semaphore.Semaphore with an acquisition timeout.
// Requests that cannot get a token within the wait window fail with ErrOverloaded.
type limitMiddleware struct {
	next   Service
	limits *ServiceLimits
}

var (
	_ Service = (*limitMiddleware)(nil)
)

type ServiceLimits struct {
	Register  *semaphore.Weighted
	Profile   *semaphore.Weighted
	Authorize *semaphore.Weighted
	Statement *semaphore.Weighted
	Wait      time.Duration
}

func NewServiceLimits(cfg *Config) *ServiceLimits {
	return &ServiceLimits{
		Register:  semaphore.NewWeighted(cfg.Limits.Register),
		Profile:   semaphore.NewWeighted(cfg.Limits.Profile),
		Authorize: semaphore.NewWeighted(cfg.Limits.Authorize),
		Statement: semaphore.NewWeighted(cfg.Limits.Statement),
		Wait:      cfg.Limits.Wait,
	}
}

func NewLimitMiddleware(limits *ServiceLimits) Middleware {
	return func(next Service) Service {
		return &limitMiddleware{
			next:   next,
			limits: limits,
		}
	}
}

func (l *limitMiddleware) acquire(ctx context.Context, sem *semaphore.Weighted) (func(), error) {
	wctx, cancel := context.WithTimeout(ctx, l.limits.Wait)
	defer cancel()
	if err := sem.Acquire(wctx, 1); err != nil {
		return nil, ErrOverloaded
	}
	return func() { sem.Release(1) }, nil
}

func (l *limitMiddleware) Register(ctx context.Context, req RegisterReq) (*Registration, error) {
	release, err := l.acquire(ctx, l.limits.Register)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Register(ctx, req)
}

func (l *limitMiddleware) Profile(ctx context.Context, req ProfileReq) (*Profile, error) {
	release, err := l.acquire(ctx, l.limits.Profile)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Profile(ctx, req)
}

func (l *limitMiddleware) Authorize(ctx context.Context, req ChargeReq) (*ChargeAttempt, error) {
	release, err := l.acquire(ctx, l.limits.Authorize)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Authorize(ctx, req)
}

func (l *limitMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	release, err := l.acquire(ctx, l.limits.Statement)
	if err != nil {
		return err
	}
	defer release()
	return l.next.Statement(ctx, w, req)
}

type loggingMiddleware struct {
	next Service
	log  *zerolog.Logger
}

var (
	_ Service = (*loggingMiddleware)(nil)
)

func NewLoggingMiddleware(log *zerolog.Logger) Middleware {
	return func(next Service) Service {
		return &loggingMiddleware{
			next: next,
			log:  log,
		}
	}
}

func (m *loggingMiddleware) done(method, acctID string, start time.Time, err error) {
	ev := m.log.Debug()
	if err != nil {
		ev = m.log.Warn().Err(err)
	}
	ev.Str("method", method).
		Str("acct", acctID).
		Dur("took", time.Since(start)).
		Msg("service call")
}

func (m *loggingMiddleware) Register(ctx context.Context, req RegisterReq) (*Registration, error) {
	start := time.Now()
	reg, err := m.next.Register(ctx, req)
	m.done("register", req.AcctID, start, err)
	return reg, err
}

func (m *loggingMiddleware) Profile(ctx context.Context, req ProfileReq) (*Profile, error) {
	start := time.Now()
	prof, err := m.next.Profile(ctx, req)
	m.done("profile", req.AcctID, start, err)
	return prof, err
}

func (m *loggingMiddleware) Authorize(ctx context.Context, req ChargeReq) (*ChargeAttempt, error) {
	start := time.Now()
	attempt, err := m.next.Authorize(ctx, req)
	m.done("authorize", req.AcctID, start, err)
	return attempt, err
}

func (m *loggingMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	start := time.Now()
	err := m.next.Statement(ctx, w, req)
	m.done("statement", req.AcctID, start, err)
	return err
}
