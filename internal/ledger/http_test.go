package ledger

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbonx/internal/schema/enum"
	"carbonx/pkg/exception"
)

func TestHTTPSubmitCarriesIdempotencyToken(t *testing.T) {
	var got submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/operations", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, sonic.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"status":"accepted","ref":"ledger-tx-1"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, srv.Client())
	res, err := c.Submit(context.Background(), Op{
		ID:      "token-1",
		Kind:    enum.IntentKindRecordTrade,
		Payload: []byte(`{"tradeId":"t-1"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, SubmitAccepted, res.Outcome)
	assert.Equal(t, "ledger-tx-1", res.Ref)
	assert.Equal(t, "token-1", got.ID)
	assert.Equal(t, "RECORD_TRADE", got.Kind)
}

func TestHTTPSubmitOutcomes(t *testing.T) {
	cases := map[string]struct {
		body    string
		outcome SubmitOutcome
	}{
		"duplicate": {`{"status":"duplicate","ref":"ledger-tx-9"}`, SubmitDuplicate},
		"rejected":  {`{"status":"rejected","reason":"unknown lot"}`, SubmitRejected},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			res, err := NewHTTPClient(srv.URL, srv.Client()).Submit(context.Background(), Op{ID: "tok", Kind: enum.IntentKindMint})
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, res.Outcome)
		})
	}
}

func TestHTTPErrorTaxonomy(t *testing.T) {
	cases := map[string]struct {
		code int
		want error
	}{
		"server error is transient": {http.StatusBadGateway, exception.ErrLedgerTransient},
		"client error is rejection": {http.StatusUnprocessableEntity, exception.ErrLedgerRejected},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, srv.Client()).Submit(context.Background(), Op{ID: "tok", Kind: enum.IntentKindMint})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestHTTPQueryMapsStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/operations/ledger-tx-7", r.URL.Path)
		_, _ = w.Write([]byte(`{"ref":"ledger-tx-7","status":"finalized-success","tokenRef":"asset-42"}`))
	}))
	defer srv.Close()

	q, err := NewHTTPClient(srv.URL, srv.Client()).Query(context.Background(), "ledger-tx-7")
	require.NoError(t, err)
	assert.Equal(t, TxSuccess, q.Status)
	assert.Equal(t, "asset-42", q.TokenRef)

	assert.Equal(t, TxPending, parseTxStatus("pending"))
	assert.Equal(t, TxFailure, parseTxStatus("finalized-failure"))
	assert.Equal(t, TxUnknown, parseTxStatus("lost"))
}

func TestHTTPUnreachableIsTransient(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", nil)
	_, err := c.Submit(context.Background(), Op{ID: "tok", Kind: enum.IntentKindMint})
	assert.ErrorIs(t, err, exception.ErrLedgerTransient)
}
