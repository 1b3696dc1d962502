// Package router turns chat messages into command handler calls.
//
// Commands run on a bounded worker pool behind a middleware chain
// (panic recovery, request logging, timeout). Access can be limited to an
// allowlist of user ids that is swappable at runtime.
package router

import (
	"context"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sweepbot/internal/runtime/supervisor"
	"sweepbot/internal/transport"
	"sweepbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessAllowed requires the sender to be on the allowlist (when one is set).
	AccessAllowed
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Request is one routed command invocation.
type Request struct {
	Message transport.Message
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger

	adapter transport.Adapter
}

// Reply sends text back to the originating chat.
func (r *Request) Reply(ctx context.Context, text, parseMode string) error {
	_, err := r.adapter.SendText(ctx, r.Chat, text, &transport.SendOptions{ParseMode: parseMode, DisablePreview: true})
	return err
}

// Manager owns the command table and the dispatch worker pool.
type Manager struct {
	mu      sync.RWMutex
	cmds    map[string]*Command
	alias   map[string]*Command
	allowed []int64

	log     logx.Logger
	adapter transport.Adapter
	workers int
	jobs    chan func()
}

func New(log logx.Logger, adapter transport.Adapter) *Manager {
	return &Manager{
		cmds:    map[string]*Command{},
		alias:   map[string]*Command{},
		log:     log.With(logx.String("comp", "router")),
		adapter: adapter,
		workers: max(2, runtime.NumCPU()),
		jobs:    make(chan func(), 256),
	}
}

// SetAllowed replaces the allowlist. An empty list lets everyone through.
func (m *Manager) SetAllowed(ids []int64) {
	cp := slices.Clone(ids)
	m.mu.Lock()
	m.allowed = cp
	m.mu.Unlock()
}

func (m *Manager) isAllowed(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.allowed) == 0 || slices.Contains(m.allowed, id)
}

// Register replaces the command table. /help is added automatically.
func (m *Manager) Register(cmds ...Command) {
	table := map[string]*Command{}
	alias := map[string]*Command{}
	all := append(slices.Clone(cmds), Command{
		Name:        "help",
		Description: "show commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.HelpText(), "HTML")
		},
	})
	for i := range all {
		c := &all[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		table[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				alias[a] = c
			}
		}
	}
	m.mu.Lock()
	m.cmds, m.alias = table, alias
	m.mu.Unlock()
}

// Commands returns the registered commands sorted by name.
func (m *Manager) Commands() []Command {
	m.mu.RLock()
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		out = append(out, *c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MenuCommands is the command list for the platform menu.
func (m *Manager) MenuCommands() []transport.BotCommand {
	var out []transport.BotCommand
	for _, c := range m.Commands() {
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

func (m *Manager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return c, true
	}
	c, ok := m.alias[word]
	return c, ok
}

// DispatchLoop routes messages until ctx is done or in is closed, then
// drains in-flight commands for a few seconds.
func (m *Manager) DispatchLoop(ctx context.Context, in <-chan transport.Message) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(m.log))
	for i := range m.workers {
		sup.Go0("router.worker."+itoa(i), func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					job()
				}
			}
		})
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers))

	defer func() {
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			m.route(ctx, msg)
		}
	}
}

func (m *Manager) route(ctx context.Context, msg transport.Message) {
	word, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cmd, ok := m.lookup(word)
	if !ok {
		_, _ = m.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	}
	if cmd.Access == AccessAllowed && !m.isAllowed(msg.FromID) {
		m.log.Warn("command refused", logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Name))
		_, _ = m.adapter.SendText(ctx, chat, "⛔ You are not allowed to use this bot.", nil)
		return
	}

	rid := uuid.NewString()
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		adapter: m.adapter,
	}
	final := Chain(cmd.Handle, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(cmd.Timeout))

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = m.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	}
}

// parseCommand splits "/cmd@bot a b" into ("cmd", ["a","b"]).
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}
