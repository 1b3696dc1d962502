package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"sweepbot/internal/eventbus"
	"sweepbot/internal/ledger"
	"sweepbot/internal/session"
	"sweepbot/pkg/logx"
)

var errNetwork = errors.New("connection reset by peer")

type balanceResult struct {
	lamports uint64
	err      error
}

// fakeLedger replays scripted balances; the last entry repeats.
type fakeLedger struct {
	mu sync.Mutex

	balances   []balanceResult
	info       *ledger.AccountInfo
	infoHook   func()
	submitErrs []error

	balanceCalls int
	infoCalls    int
	anchorCalls  int
	submitted    [][]byte
}

func (f *fakeLedger) GetBalance(ctx context.Context, _ solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if len(f.balances) == 0 {
		return 0, nil
	}
	r := f.balances[0]
	if len(f.balances) > 1 {
		f.balances = f.balances[1:]
	}
	return r.lamports, r.err
}

func (f *fakeLedger) GetAccountInfo(ctx context.Context, _ solana.PublicKey) (*ledger.AccountInfo, error) {
	f.mu.Lock()
	f.infoCalls++
	info, hook := f.info, f.infoHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return info, nil
}

func (f *fakeLedger) GetRecentAnchor(ctx context.Context) (solana.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anchorCalls++
	return solana.Hash{byte(f.anchorCalls)}, nil
}

func (f *fakeLedger) Submit(ctx context.Context, raw []byte) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	f.submitted = append(f.submitted, raw)
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return solana.Signature{}, err
		}
	}
	return solana.Signature{9, 9, 9}, nil
}

func (f *fakeLedger) counts() (balance, info, anchor, submit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls, f.infoCalls, f.anchorCalls, len(f.submitted)
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Send(_ context.Context, _ int64, text, _ string) error {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

// sleeper records requested delays and stops the session after limit calls.
type sleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	limit  int
	stop   func()
	// hook runs on every sleep with the 1-based call number.
	hook func(n int)
}

func (s *sleeper) Sleep(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	stop, hook := s.stop, s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if n >= s.limit && stop != nil {
		stop()
	}
	return ctx.Err() == nil
}

func (s *sleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type harness struct {
	t      *testing.T
	key    solana.PrivateKey
	dest   solana.PublicKey
	ledger *fakeLedger
	notify *fakeNotifier
	sleep  *sleeper
	bus    eventbus.Bus
	reg    *session.Registry
	worker *Worker
}

const testChat int64 = 1001

func newHarness(t *testing.T, stopAfterSleeps int) *harness {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	dest, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	h := &harness{
		t:      t,
		key:    key,
		dest:   dest.PublicKey(),
		ledger: &fakeLedger{},
		notify: &fakeNotifier{},
		sleep:  &sleeper{limit: stopAfterSleeps},
		bus:    eventbus.New(),
	}
	h.reg = session.New(context.Background(), "sweep", session.WithLogger(logx.Nop()))
	h.sleep.stop = func() { _ = h.reg.Stop(testChat) }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.reg.Shutdown(ctx)
	})
	return h
}

func (h *harness) newWorker(req Request) *Worker {
	h.worker = NewWorker(Deps{
		Ledger: h.ledger,
		Notify: h.notify,
		Bus:    h.bus,
		Log:    logx.Nop(),
		Sleep:  h.sleep.Sleep,
	}, Policy{}, req)
	return h.worker
}

func (h *harness) request() Request {
	return Request{ChatID: testChat, Key: h.key.String(), Destination: h.dest.String()}
}

// run starts the worker through the registry and waits for it to return.
func (h *harness) run() *session.Session {
	h.t.Helper()
	w := h.newWorker(h.request())
	s, err := h.reg.Start(testChat, w.Run)
	require.NoError(h.t, err)
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		h.t.Fatal("worker did not exit")
	}
	return s
}

func systemAccount(lamports uint64) *ledger.AccountInfo {
	return &ledger.AccountInfo{Owner: solana.SystemProgramID, Lamports: lamports}
}

func tokenAccount(owner solana.PublicKey, lamports uint64, state byte) *ledger.AccountInfo {
	data := make([]byte, tokenAccountSize)
	copy(data[tokenOwnerOffset:], owner[:])
	data[tokenStateOffset] = state
	return &ledger.AccountInfo{Owner: solana.TokenProgramID, Lamports: lamports, Data: data}
}

func programError(code int64) error {
	return &ledger.Error{Op: "sendTransaction", Kind: ledger.KindProgram, Reason: "Custom", Custom: code, Err: errors.New("simulation failed")}
}

func raceError(reason string) error {
	return &ledger.Error{Op: "sendTransaction", Kind: ledger.KindRace, Reason: reason, Custom: -1, Err: errors.New("simulation failed")}
}
