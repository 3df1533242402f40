package ledger

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"carbonx/internal/errors"
	"carbonx/pkg/exception"
)

// HTTPClient speaks JSON over HTTP to the external ledger endpoint.
type HTTPClient struct {
	base   string
	client *http.Client
}

// NewHTTPClient wraps an http.Client against the ledger base URL.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
	}
}

type submitRequest struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
}

type submitResponse struct {
	Status string `json:"status"`
	Ref    string `json:"ref"`
	Reason string `json:"reason,omitempty"`
}

type statusResponse struct {
	Ref      string `json:"ref"`
	Status   string `json:"status"`
	TokenRef string `json:"tokenRef,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

func (c *HTTPClient) Submit(ctx context.Context, op Op) (SubmitResult, error) {
	body, err := sonic.Marshal(submitRequest{
		ID:      op.ID,
		Kind:    op.Kind.String(),
		Payload: op.Payload,
	})
	if err != nil {
		return SubmitResult{}, errors.Wrap(err, "encode submit request")
	}

	var resp submitResponse
	if err := c.post(ctx, "/operations", body, &resp); err != nil {
		return SubmitResult{}, err
	}

	switch resp.Status {
	case "accepted":
		return SubmitResult{Outcome: SubmitAccepted, Ref: resp.Ref}, nil
	case "duplicate":
		return SubmitResult{Outcome: SubmitDuplicate, Ref: resp.Ref}, nil
	case "rejected":
		return SubmitResult{Outcome: SubmitRejected, Reason: resp.Reason}, nil
	default:
		return SubmitResult{}, errors.Wrapf(exception.ErrLedgerTransient, "unexpected submit status %q", resp.Status)
	}
}

func (c *HTTPClient) Status(ctx context.Context, ref string) (TxStatus, error) {
	var resp statusResponse
	if err := c.get(ctx, "/operations/"+ref, &resp); err != nil {
		return TxUnknown, err
	}
	return parseTxStatus(resp.Status), nil
}

func (c *HTTPClient) Query(ctx context.Context, ref string) (QueryResult, error) {
	var resp statusResponse
	if err := c.get(ctx, "/operations/"+ref, &resp); err != nil {
		return QueryResult{}, err
	}
	return QueryResult{
		Ref:      resp.Ref,
		Status:   parseTxStatus(resp.Status),
		TokenRef: resp.TokenRef,
		Detail:   resp.Detail,
	}, nil
}

func parseTxStatus(s string) TxStatus {
	switch s {
	case "pending":
		return TxPending
	case "finalized-success":
		return TxSuccess
	case "finalized-failure":
		return TxFailure
	default:
		return TxUnknown
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(exception.ErrLedgerTransient, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(exception.ErrLedgerTransient, "read response body")
	}

	switch {
	case resp.StatusCode >= 500:
		return errors.Wrapf(exception.ErrLedgerTransient, "ledger returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return errors.Wrapf(exception.ErrLedgerRejected, "ledger returned %d: %s", resp.StatusCode, raw)
	}

	if err := sonic.Unmarshal(raw, out); err != nil {
		return errors.Wrap(exception.ErrLedgerTransient, "decode response body")
	}
	return nil
}
