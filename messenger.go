package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

//go:generate mockgen -source=messenger.go -destination=mocks/messenger.go -package=mocks

type Message struct {
	ChatID int64
	Text   string
}

type Messenger interface {
	Send(ctx context.Context, msg Message) error
}

// TelegramMessenger sends replies through the Bot API.
type TelegramMessenger struct {
	client  *http.Client
	baseURL string
	token   string
}

var (
	_ Messenger = (*TelegramMessenger)(nil)
)

func NewTelegramMessenger(client *http.Client, baseURL, token string) *TelegramMessenger {
	return &TelegramMessenger{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

type botJSONResp struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramMessenger) Send(ctx context.Context, msg Message) error {
	start := time.Now()
	err := t.call(ctx, "sendMessage", map[string]any{
		"chat_id": msg.ChatID,
		"text":    msg.Text,
	})
	observeUpstream("messenger", start, err)
	return err
}

// SetWebhook registers hookURL as the bot's update endpoint. secret, when
// set, is echoed back by the Bot API in every update request.
func (t *TelegramMessenger) SetWebhook(ctx context.Context, hookURL, secret string) error {
	payload := map[string]any{"url": hookURL}
	if secret != "" {
		payload["secret_token"] = secret
	}
	return t.call(ctx, "setWebhook", payload)
}

func (t *TelegramMessenger) call(ctx context.Context, method string, payload map[string]any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpt := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpt, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// the request URL carries the bot token
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("bot api %s: %w", method, err)
	}
	defer resp.Body.Close()

	var body botJSONResp
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("bot api %s: decode: %w", method, err)
	}
	if !body.OK {
		return fmt.Errorf("bot api %s: %s", method, body.Description)
	}
	return nil
}
