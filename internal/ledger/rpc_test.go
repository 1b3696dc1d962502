package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweepbot/pkg/logx"
)

// rpcStub answers JSON-RPC requests with canned results keyed by method.
type rpcStub struct {
	results map[string]any
	errors  map[string]any
	delay   time.Duration
}

func (s *rpcStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     any    `json:"id"`
		Method string `json:"method"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			return
		}
	}
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if e, ok := s.errors[req.Method]; ok {
		resp["error"] = e
	} else {
		resp["result"] = s.results[req.Method]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newStubRPC(t *testing.T, stub *rpcStub, timeout time.Duration) *RPC {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return NewRPC(Options{Endpoint: srv.URL, CallTimeout: timeout, Log: logx.Nop()})
}

func ctxValue(v any) map[string]any {
	return map[string]any{"context": map[string]any{"slot": 1}, "value": v}
}

func TestRPCGetBalanceAndAccount(t *testing.T) {
	data := make([]byte, 165)
	data[108] = 1
	stub := &rpcStub{results: map[string]any{
		"getBalance": ctxValue(2039280),
		"getAccountInfo": ctxValue(map[string]any{
			"data":       []any{base64.StdEncoding.EncodeToString(data), "base64"},
			"executable": false,
			"lamports":   2039280,
			"owner":      solana.TokenProgramID.String(),
			"rentEpoch":  0,
			"space":      165,
		}),
	}}
	r := newStubRPC(t, stub, time.Second)
	addr := solana.NewWallet().PublicKey()

	bal, err := r.GetBalance(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(2039280), bal)

	info, err := r.GetAccountInfo(context.Background(), addr)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, solana.TokenProgramID, info.Owner)
	assert.Len(t, info.Data, 165)
}

func TestRPCMissingAccountIsNil(t *testing.T) {
	stub := &rpcStub{results: map[string]any{"getAccountInfo": ctxValue(nil)}}
	r := newStubRPC(t, stub, time.Second)

	info, err := r.GetAccountInfo(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestRPCSubmitClassifiesSimulationFailure(t *testing.T) {
	stub := &rpcStub{errors: map[string]any{"sendTransaction": map[string]any{
		"code":    -32002,
		"message": "Transaction simulation failed: Blockhash not found",
		"data":    map[string]any{"err": "BlockhashNotFound", "logs": []any{}},
	}}}
	r := newStubRPC(t, stub, time.Second)

	_, err := r.Submit(context.Background(), []byte{1, 2, 3})
	require.Error(t, err)
	assert.Equal(t, KindRace, KindOf(err))
}

func TestRPCCallTimeout(t *testing.T) {
	stub := &rpcStub{delay: time.Second, results: map[string]any{"getBalance": ctxValue(1)}}
	r := newStubRPC(t, stub, 50*time.Millisecond)

	start := time.Now()
	_, err := r.GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}
