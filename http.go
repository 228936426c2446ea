package paygate

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

var (
	statusOK = []byte(`{"status":"OK"}`)
)

type profileJSONResp struct {
	AcctID         string           `json:"acct_id"`
	DepositAddress string           `json:"deposit_address"`
	Balance        decimal.Decimal  `json:"balance"`
	FiatValue      *decimal.Decimal `json:"fiat_value"`
	UsageCount     int64            `json:"usage_count"`
	Stale          bool             `json:"stale"`
}

// botUpdate is the subset of a Bot API update the webhook reads.
type botUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		From *struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

func NewHTTPHandler(cfg *Config, svc Service, disp *Dispatcher, msgr Messenger, log *zerolog.Logger) http.Handler {
	hndlr := &httpHandler{
		Svc:           svc,
		Disp:          disp,
		Msgr:          msgr,
		WebhookSecret: cfg.Server.WebhookSecret,
		AdminToken:    cfg.Server.AdminToken,
		Log:           log,
	}
	mux := chi.NewMux()
	mux.Use(middleware.Recoverer)
	mux.NotFound(HTTPNotFound)
	mux.Get("/healthz", hndlr.Health)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Post("/webhook", hndlr.Webhook)
	if hndlr.AdminToken != "" {
		mux.Route("/accounts", func(r chi.Router) {
			r.Use(hndlr.requireAdmin)
			r.Route("/{acctID:[0-9]+}", func(rr chi.Router) {
				rr.Get("/profile", hndlr.Profile)
				rr.Get("/statement", hndlr.Statement)
			})
		})
	}

	return mux
}

type httpHandler struct {
	Svc           Service
	Disp          *Dispatcher
	Msgr          Messenger
	WebhookSecret string
	AdminToken    string
	Log           *zerolog.Logger
}

func (h *httpHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminToken)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *httpHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(statusOK)
}

// Webhook answers 200 for every well-formed update, including ones it
// ignores, so the Bot API does not redeliver them.
func (h *httpHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.WebhookSecret != "" {
		got := r.Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) != 1 {
			h.Log.Warn().Str("method", "webhook").Msg("webhook secret mismatch")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		h.Log.Err(err).Str("method", "webhook").Msg("error reading HTTP request")
		WriteHTTPError(w, ErrInternalServer)
		return
	}
	var upd botUpdate
	if err = json.Unmarshal(buf, &upd); err != nil {
		h.Log.Err(err).Str("method", "webhook").Msg("error unmarshalling JSON")
		WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"request body": "malformed JSON"}})
		return
	}

	if upd.Message == nil || upd.Message.From == nil || upd.Message.Text == "" {
		h.Log.Debug().Int64("update", upd.UpdateID).Msg("ignoring update without text message")
		w.Header().Set("Content-Type", "application/json")
		w.Write(statusOK)
		return
	}

	cmd := Command{
		ChatID: upd.Message.Chat.ID,
		UserID: strconv.FormatInt(upd.Message.From.ID, 10),
		Text:   upd.Message.Text,
	}
	// Commands are not cancellable once dispatched.
	ctx := context.WithoutCancel(r.Context())
	for _, msg := range h.Disp.Handle(ctx, cmd) {
		if err = h.Msgr.Send(ctx, msg); err != nil {
			h.Log.Err(err).
				Int64("update", upd.UpdateID).
				Int64("chat", msg.ChatID).
				Msg("error sending reply")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(statusOK)
}

func (h *httpHandler) Profile(w http.ResponseWriter, r *http.Request) {
	req := ProfileReq{
		AcctID: chi.URLParam(r, "acctID"),
	}
	prof, err := h.Svc.Profile(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}

	resp := profileJSONResp{
		AcctID:         prof.AcctID,
		DepositAddress: prof.DepositAddress,
		Balance:        prof.Balance,
		FiatValue:      prof.FiatValue,
		UsageCount:     prof.UsageCount,
		Stale:          prof.Stale,
	}
	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(resp); err != nil {
		h.Log.Err(err).Str("method", "profile").Msg("error encoding response")
	}
}

func (h *httpHandler) Statement(w http.ResponseWriter, r *http.Request) {
	req := StatementReq{
		AcctID: chi.URLParam(r, "acctID"),
	}
	var buf bytes.Buffer
	if err := h.Svc.Statement(r.Context(), &buf, req); err != nil {
		WriteHTTPError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="statement-`+req.AcctID+`.pdf"`)
	if _, err := buf.WriteTo(w); err != nil {
		h.Log.Err(err).Str("method", "statement").Msg("error writing statement")
	}
}

func WriteHTTPError(w http.ResponseWriter, err error) {
	var ne error
	defer func() {
		if ne != nil {
			log.Error().
				Err(ne).
				Msg("error response encoding failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	errnf := &ErrNotFound{}
	errbr := &ErrBadRequest{}
	switch {
	case errors.As(err, errnf):
		w.WriteHeader(http.StatusNotFound)
		ne = json.NewEncoder(w).Encode(errnf)
	case errors.Is(err, ErrNotRegistered):
		w.WriteHeader(http.StatusNotFound)
		ne = json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
	case errors.As(err, errbr):
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(errbr)
	case errors.Is(err, ErrOverloaded):
		w.WriteHeader(http.StatusServiceUnavailable)
		ne = json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		resp := map[string]string{
			"message": "server error",
		}
		ne = json.NewEncoder(w).Encode(resp)
	}
}

func HTTPNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	resp := map[string]string{
		"path": r.URL.Path,
	}
	json.NewEncoder(w).Encode(resp)
}
