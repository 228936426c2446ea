package paygate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

//go:generate mockgen -source=feed.go -destination=mocks/feed.go -package=mocks

// FeedTx is a transaction as reported by the ledger feed. AmountSubunits is
// negative for funds leaving the address.
type FeedTx struct {
	ID             string
	AmountSubunits int64
	Confirmations  int
	Time           int64
}

type LedgerFeed interface {
	IssueAddress(ctx context.Context) (string, error)
	FetchTransactions(ctx context.Context, address string) ([]FeedTx, error)
}

// BlockonomicsFeed talks to a Blockonomics-compatible wallet API.
type BlockonomicsFeed struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

var (
	_ LedgerFeed = (*BlockonomicsFeed)(nil)
)

func NewBlockonomicsFeed(client *http.Client, baseURL, apiKey string) *BlockonomicsFeed {
	return &BlockonomicsFeed{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type newAddressJSONResp struct {
	Address string `json:"address"`
}

type txJSON struct {
	TxID          string `json:"txid"`
	Value         int64  `json:"value"`
	Confirmations int    `json:"confirmations"`
	Time          int64  `json:"time"`
}

type transactionsJSONResp struct {
	Txs []txJSON `json:"txs"`
}

func (f *BlockonomicsFeed) IssueAddress(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/api/new_address", nil)
	if err != nil {
		return "", err
	}
	var resp newAddressJSONResp
	if err = f.do(req, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Address), nil
}

func (f *BlockonomicsFeed) FetchTransactions(ctx context.Context, address string) ([]FeedTx, error) {
	endpt := f.baseURL + "/api/transactions/" + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpt, nil)
	if err != nil {
		return nil, err
	}
	var resp transactionsJSONResp
	if err = f.do(req, &resp); err != nil {
		return nil, err
	}
	txs := make([]FeedTx, 0, len(resp.Txs))
	for _, t := range resp.Txs {
		txs = append(txs, FeedTx{
			ID:             t.TxID,
			AmountSubunits: t.Value,
			Confirmations:  t.Confirmations,
			Time:           t.Time,
		})
	}
	return txs, nil
}

func (f *BlockonomicsFeed) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger feed %s: status %d", req.URL.Path, resp.StatusCode)
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ledger feed %s: decode: %w", req.URL.Path, err)
	}
	return nil
}
