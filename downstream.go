package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

//go:generate mockgen -source=downstream.go -destination=mocks/downstream.go -package=mocks

// Result is the structured payload of a downstream operation.
type Result struct {
	Kind   string
	Fields map[string]string
}

// Lines renders the fields as sorted "key: value" lines.
func (r *Result) Lines() []string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+r.Fields[k])
	}
	return lines
}

// Operator executes a paid operation. It is only called after admission.
type Operator interface {
	Execute(ctx context.Context, kind string, params map[string]string) (*Result, error)
}

// HTTPOperator posts the operation to a JSON endpoint:
//
//	{"kind": "...", "parameters": {...}} -> {"success": true, "data": {...}}
type HTTPOperator struct {
	client  *http.Client
	url     string
	apiKey  string
	timeout time.Duration
}

var (
	_ Operator = (*HTTPOperator)(nil)
)

func NewHTTPOperator(client *http.Client, url, apiKey string, timeout time.Duration) *HTTPOperator {
	return &HTTPOperator{
		client:  client,
		url:     url,
		apiKey:  apiKey,
		timeout: timeout,
	}
}

type operationJSONReq struct {
	Kind       string            `json:"kind"`
	Parameters map[string]string `json:"parameters"`
}

type operationJSONResp struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   string         `json:"error"`
}

func (o *HTTPOperator) Execute(ctx context.Context, kind string, params map[string]string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	res, err := o.execute(ctx, kind, params)
	observeUpstream("downstream", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownstreamFailure, err)
	}
	return res, nil
}

func (o *HTTPOperator) execute(ctx context.Context, kind string, params map[string]string) (*Result, error) {
	buf, err := json.Marshal(operationJSONReq{Kind: kind, Parameters: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("downstream: status %d", resp.StatusCode)
	}

	var body operationJSONResp
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("downstream: decode: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("downstream: %s", body.Error)
	}

	fields := make(map[string]string, len(body.Data))
	for k, v := range body.Data {
		fields[k] = stringify(v)
	}
	return &Result{Kind: kind, Fields: fields}, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case map[string]any, []any:
		bits, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(bits)
	default:
		return fmt.Sprint(t)
	}
}
