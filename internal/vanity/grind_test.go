package vanity

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweepbot/internal/eventbus"
	"sweepbot/internal/session"
	"sweepbot/pkg/logx"
)

func TestValidatePrefix(t *testing.T) {
	tests := []struct {
		prefix string
		ok     bool
	}{
		{"So1", true},
		{"abc", true},
		{"", false},
		{"0x", false},
		{"Oil", false},
		{"toolong", false},
	}
	for _, tt := range tests {
		err := ValidatePrefix(tt.prefix, 6)
		if tt.ok {
			assert.NoError(t, err, tt.prefix)
		} else {
			assert.ErrorIs(t, err, ErrBadPrefix, tt.prefix)
		}
	}
}

func TestGrindFindsSingleCharPrefix(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	res, err := Grind(ctx, "A", Options{Workers: 2})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Address.String(), "A"))
	assert.Equal(t, res.Key.PublicKey(), res.Address)
	assert.GreaterOrEqual(t, res.Attempts, uint64(1))
}

func TestGrindStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var progressed atomic.Uint64
	done := make(chan error, 1)
	go func() {
		// Long enough that it will not be found.
		_, err := Grind(ctx, "zzzzzzzz", Options{Workers: 2, Progress: func(n uint64) { progressed.Add(n) }})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("grind did not stop")
	}
}

// scriptedKeys yields a fixed key on the nth call and random keys before it.
func scriptedKeys(t *testing.T, n int) (func() (solana.PrivateKey, error), solana.PrivateKey) {
	t.Helper()
	target, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	var (
		mu    sync.Mutex
		calls int
	)
	return func() (solana.PrivateKey, error) {
		mu.Lock()
		calls++
		c := calls
		mu.Unlock()
		if c == n {
			return target, nil
		}
		return solana.NewRandomPrivateKey()
	}, target
}

type recNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recNotifier) Send(_ context.Context, _ int64, text, _ string) error {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
	return nil
}

func TestWorkerReportsMatch(t *testing.T) {
	gen, target := scriptedKeys(t, 3)
	prefix := target.PublicKey().String()[:5]

	bus := eventbus.New()
	found, unsub := bus.Subscribe(1, eventbus.VanityFound)
	defer unsub()
	notify := &recNotifier{}
	reg := session.New(context.Background(), "vanity", session.WithLogger(logx.Nop()))

	w := NewWorker(Deps{Notify: notify, Bus: bus, Log: logx.Nop()}, Settings{Workers: 1, MaxPrefixLength: 6}, 7, prefix)
	w.newKey = gen
	s, err := reg.Start(7, w.Run)
	require.NoError(t, err)
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("vanity worker did not finish")
	}

	assert.Equal(t, "found", s.State())
	ev := <-found
	f := ev.Data.(Found)
	assert.Equal(t, target.PublicKey(), f.Address)
	assert.Equal(t, s.RunID, f.RunID)

	require.Len(t, notify.texts, 2)
	assert.Contains(t, notify.texts[1], target.PublicKey().String())
	assert.Contains(t, notify.texts[1], target.String())
}

func TestWorkerRejectsBadPrefix(t *testing.T) {
	notify := &recNotifier{}
	reg := session.New(context.Background(), "vanity", session.WithLogger(logx.Nop()))
	w := NewWorker(Deps{Notify: notify, Log: logx.Nop()}, Settings{MaxPrefixLength: 4}, 7, "0OOO")
	s, err := reg.Start(7, w.Run)
	require.NoError(t, err)
	<-s.Done()

	assert.Equal(t, "stopped", s.State())
	assert.NotEmpty(t, s.LastError())
	require.Len(t, notify.texts, 1)
}

func TestWorkerEscapesPrefixInError(t *testing.T) {
	notify := &recNotifier{}
	reg := session.New(context.Background(), "vanity", session.WithLogger(logx.Nop()))
	w := NewWorker(Deps{Notify: notify, Log: logx.Nop()}, Settings{MaxPrefixLength: 4}, 7, "a<b")
	s, err := reg.Start(7, w.Run)
	require.NoError(t, err)
	<-s.Done()

	require.Len(t, notify.texts, 1)
	assert.NotContains(t, notify.texts[0], "<")
	assert.Contains(t, notify.texts[0], "&#39;&lt;&#39;")
}

func TestWorkerTimesOut(t *testing.T) {
	notify := &recNotifier{}
	reg := session.New(context.Background(), "vanity", session.WithLogger(logx.Nop()))
	w := NewWorker(Deps{Notify: notify, Log: logx.Nop()},
		Settings{Workers: 1, MaxPrefixLength: 10, MaxDuration: 50 * time.Millisecond}, 7, "zzzzzzzzz")
	s, err := reg.Start(7, w.Run)
	require.NoError(t, err)
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout not honoured")
	}

	assert.Equal(t, "timed out", s.State())
	require.Len(t, notify.texts, 2)
	assert.Contains(t, notify.texts[1], "No match")
}
