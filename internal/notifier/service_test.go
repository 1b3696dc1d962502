package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweepbot/internal/eventbus"
	"sweepbot/internal/transport"
	"sweepbot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []string
	opts  []transport.SendOptions
	calls int
	block chan struct{}
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return transport.MessageRef{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return transport.MessageRef{}, errors.New("telegram: 502")
	}
	f.sent = append(f.sent, text)
	f.opts = append(f.opts, *opt)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) snapshot() (calls int, sent []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]string(nil), f.sent...)
}

func fastConfig() Config {
	return Config{Enabled: true, Workers: 1, QueueSize: 8, RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func TestSendDeliversInOrder(t *testing.T) {
	sender := &fakeSender{}
	s := New(fastConfig(), sender, logx.Nop(), nil)
	s.Start(context.Background())

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.Send(context.Background(), 5, text, "HTML"))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	_, sent := sender.snapshot()
	assert.Equal(t, []string{"one", "two", "three"}, sent)
	assert.Equal(t, "HTML", sender.opts[0].ParseMode)
	assert.True(t, sender.opts[0].DisablePreview)
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	sender := &fakeSender{fails: 2}
	s := New(fastConfig(), sender, logx.Nop(), nil)
	s.Start(context.Background())

	require.NoError(t, s.Send(context.Background(), 5, "hello", ""))
	s.Stop(context.Background())

	calls, sent := sender.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"hello"}, sent)
}

func TestSendGivesUpAndPublishes(t *testing.T) {
	bus := eventbus.New()
	failures, unsub := bus.Subscribe(1, eventbus.NotifyFailed)
	defer unsub()

	sender := &fakeSender{fails: 10}
	s := New(fastConfig(), sender, logx.Nop(), bus)
	s.Start(context.Background())
	require.NoError(t, s.Send(context.Background(), 5, "hello", ""))
	s.Stop(context.Background())

	calls, _ := sender.snapshot()
	assert.Equal(t, 3, calls)
	select {
	case ev := <-failures:
		f := ev.Data.(Failure)
		assert.Equal(t, int64(5), f.ChatID)
		assert.Equal(t, 3, f.Attempts)
	default:
		t.Fatal("no failure event")
	}
}

func TestQueueFull(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	cfg := fastConfig()
	cfg.QueueSize = 1
	s := New(cfg, sender, logx.Nop(), nil)
	s.Start(context.Background())

	var full bool
	for range 5 {
		if errors.Is(s.Send(context.Background(), 5, "x", ""), ErrQueueFull) {
			full = true
			break
		}
	}
	assert.True(t, full)
	close(sender.block)
	s.Stop(context.Background())
}

func TestSendAfterStop(t *testing.T) {
	s := New(fastConfig(), &fakeSender{}, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())
	require.ErrorIs(t, s.Send(context.Background(), 5, "late", ""), ErrStopped)
}

func TestDisabledSendsInline(t *testing.T) {
	sender := &fakeSender{}
	cfg := fastConfig()
	cfg.Enabled = false
	s := New(cfg, sender, logx.Nop(), nil)
	s.Start(context.Background())

	require.NoError(t, s.Send(context.Background(), 5, "now", ""))
	_, sent := sender.snapshot()
	assert.Equal(t, []string{"now"}, sent)
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt, base := range map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 3: 400 * time.Millisecond, 8: time.Second} {
		d := retryDelay(cfg, attempt)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.7), "attempt %d", attempt)
		assert.LessOrEqual(t, d, time.Duration(float64(base)*1.3), "attempt %d", attempt)
	}
}
