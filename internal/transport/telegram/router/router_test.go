package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweepbot/internal/transport"
	"sweepbot/pkg/logx"
)

type sent struct {
	to   transport.ChatTarget
	text string
	mode string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Message) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                            { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := sent{to: to, text: text}
	if opt != nil {
		s.mode = opt.ParseMode
	}
	f.sent = append(f.sent, s)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.text
	}
	return out
}

func runLoop(t *testing.T, m *Manager) chan<- transport.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan transport.Message)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, in)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return in
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		word string
		args []string
		ok   bool
	}{
		{"/sweep a b", "sweep", []string{"a", "b"}, true},
		{"  /Stop@sweep_bot ", "stop", []string{}, true},
		{"/status   x", "status", []string{"x"}, true},
		{"/sweep [1, 2, 3] Dest111", "sweep", []string{"[1,", "2,", "3]", "Dest111"}, true},
		{"hello", "", nil, false},
		{"/", "", nil, false},
		{"/@bot", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			word, args, ok := parseCommand(tt.in)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.word, word)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestDispatchRoutesArgsAndAliases(t *testing.T) {
	fa := &fakeAdapter{}
	m := New(logx.Nop(), fa)
	got := make(chan *Request, 2)
	m.Register(Command{
		Name:    "sweep",
		Aliases: []string{"sw"},
		Handle: func(_ context.Context, req *Request) error {
			got <- req
			return nil
		},
	})
	in := runLoop(t, m)

	in <- transport.Message{ChatID: 7, FromID: 42, Text: "/sweep key dest"}
	in <- transport.Message{ChatID: 7, FromID: 42, Text: "/sw@bot k2 d2"}

	for _, want := range [][]string{{"key", "dest"}, {"k2", "d2"}} {
		select {
		case req := <-got:
			assert.Equal(t, "sweep", req.Command)
			assert.Equal(t, int64(7), req.Chat.ChatID)
			assert.Equal(t, int64(42), req.FromID)
			assert.NotEmpty(t, req.ReqID)
			// Two workers may run the requests in either order.
			assert.Len(t, req.Args, len(want))
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called")
		}
	}
}

func TestUnknownCommandReplies(t *testing.T) {
	fa := &fakeAdapter{}
	m := New(logx.Nop(), fa)
	m.Register()
	in := runLoop(t, m)

	in <- transport.Message{ChatID: 1, Text: "/nope"}
	in <- transport.Message{ChatID: 1, Text: "not a command"}

	require.Eventually(t, func() bool { return len(fa.texts()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, fa.texts()[0], "/help")
}

func TestAllowlist(t *testing.T) {
	fa := &fakeAdapter{}
	m := New(logx.Nop(), fa)
	called := make(chan int64, 4)
	m.Register(Command{
		Name:   "sweep",
		Access: AccessAllowed,
		Handle: func(_ context.Context, req *Request) error {
			called <- req.FromID
			return nil
		},
	})
	m.SetAllowed([]int64{5})
	in := runLoop(t, m)

	in <- transport.Message{ChatID: 1, FromID: 9, Text: "/sweep"}
	require.Eventually(t, func() bool { return len(fa.texts()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, fa.texts()[0], "not allowed")

	in <- transport.Message{ChatID: 1, FromID: 5, Text: "/sweep"}
	select {
	case id := <-called:
		assert.Equal(t, int64(5), id)
	case <-time.After(2 * time.Second):
		t.Fatal("allowed user rejected")
	}

	m.SetAllowed(nil)
	in <- transport.Message{ChatID: 1, FromID: 9, Text: "/sweep"}
	select {
	case id := <-called:
		assert.Equal(t, int64(9), id)
	case <-time.After(2 * time.Second):
		t.Fatal("empty allowlist should let everyone in")
	}
}

func TestHelpIsRegistered(t *testing.T) {
	fa := &fakeAdapter{}
	m := New(logx.Nop(), fa)
	m.Register(
		Command{Name: "sweep", Usage: "/sweep <key> <dest>", Description: "start <sweeping>", Handle: func(context.Context, *Request) error { return nil }},
		Command{Name: "broken"},
	)

	names := []string{}
	for _, c := range m.MenuCommands() {
		names = append(names, c.Command)
	}
	assert.Equal(t, []string{"help", "sweep"}, names)

	help := m.HelpText()
	assert.Contains(t, help, "/sweep &lt;key&gt; &lt;dest&gt;")
	assert.Contains(t, help, "start &lt;sweeping&gt;")

	in := runLoop(t, m)
	in <- transport.Message{ChatID: 3, Text: "/help"}
	require.Eventually(t, func() bool { return len(fa.texts()) == 1 }, time.Second, 10*time.Millisecond)
	fa.mu.Lock()
	assert.Equal(t, "HTML", fa.sent[0].mode)
	fa.mu.Unlock()
}

func TestPanicRecoverAndTimeout(t *testing.T) {
	h := Chain(func(context.Context, *Request) error { panic("boom") }, MWPanicRecover(logx.Nop()))
	err := h(context.Background(), &Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	var deadline bool
	h = Chain(func(ctx context.Context, _ *Request) error {
		_, deadline = ctx.Deadline()
		return nil
	}, MWTimeout(time.Second))
	require.NoError(t, h(context.Background(), &Request{}))
	assert.True(t, deadline)
}
