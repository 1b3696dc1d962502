package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sweepbot/internal/eventbus"
	"sweepbot/internal/runtime/supervisor"
	"sweepbot/internal/transport"
	"sweepbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const sendTimeout = 10 * time.Second

type job struct {
	chatID int64
	text   string
	format string
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *supervisor.Supervisor
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps rate and retry settings. Queue size and worker count take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		// Telegram allows roughly 30 messages per second per bot.
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is a no-op when already running or disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	q := s.queue
	for i := range s.cfg.Workers {
		s.sup.Go0(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) {
			s.workerLoop(c, q)
		})
	}
}

// Stop refuses new messages and drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// In-flight Sends finish before the queue closes.
	s.sendWG.Wait()
	close(q)
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		s.log.Warn("notifier drain cut short", logx.Int("pending", len(q)))
	}

	s.mu.Lock()
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
}

// Send queues text for chatID. format is a Telegram parse mode ("HTML", "")
func (s *Service) Send(ctx context.Context, chatID int64, text, format string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return s.deliver(ctx, job{chatID: chatID, text: text, format: format})
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- job{chatID: chatID, text: text, format: format}:
		return nil
	default:
		s.log.Warn("notification dropped", logx.Int64("chat_id", chatID), logx.Err(ErrQueueFull))
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		lastErr = s.deliver(ctx, j)
		if lastErr == nil {
			return
		}
		s.log.Debug("notify send failed", logx.Err(lastErr), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		if !supervisor.Sleep(ctx, retryDelay(cfg, attempt)) {
			return
		}
	}

	s.log.Warn("notification failed", logx.Int64("chat_id", j.chatID), logx.Int("attempts", attempts), logx.Err(lastErr))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifyFailed, Data: Failure{
			ChatID: j.chatID, Attempts: attempts, Error: lastErr.Error(), At: time.Now(),
		}})
	}
}

func (s *Service) deliver(ctx context.Context, j job) error {
	if s.sender == nil {
		return errors.New("no sender")
	}
	cctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	_, err := s.sender.SendText(cctx, transport.ChatTarget{ChatID: j.chatID}, j.text, &transport.SendOptions{
		ParseMode:      j.format,
		DisablePreview: true,
	})
	return err
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1), capped, with
// 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	return time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
}
