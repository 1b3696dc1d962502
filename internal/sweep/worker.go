// Package sweep implements the per-chat sweeper: a polling state machine that
// drains a watched account into a destination.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"sweepbot/internal/eventbus"
	"sweepbot/internal/ledger"
	"sweepbot/internal/runtime/supervisor"
	"sweepbot/internal/session"
	"sweepbot/pkg/logx"
)

// Notifier delivers a message to a chat. Failures are the notifier's problem;
// the worker only logs them.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text, format string) error
}

const formatHTML = "HTML"

// Policy holds the worker timings.
type Policy struct {
	FeeBuffer           uint64
	IdleDelay           time.Duration
	Cooldown            time.Duration
	TransportBackoff    time.Duration
	TransportBackoffMax time.Duration
	// SubmitTimeout bounds a submission that outlives a stop request.
	SubmitTimeout time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.FeeBuffer == 0 {
		p.FeeBuffer = 5000
	}
	if p.IdleDelay <= 0 {
		p.IdleDelay = time.Second
	}
	if p.Cooldown <= 0 {
		p.Cooldown = 10 * time.Second
	}
	if p.TransportBackoff <= 0 {
		p.TransportBackoff = 2 * time.Second
	}
	if p.TransportBackoffMax < p.TransportBackoff {
		p.TransportBackoffMax = p.TransportBackoff
	}
	if p.SubmitTimeout <= 0 {
		p.SubmitTimeout = 30 * time.Second
	}
	return p
}

// Request is what a user supplies to start a sweep.
type Request struct {
	ChatID      int64
	Key         string
	Destination string
}

// Receipt describes a confirmed submission. It is published on the bus as
// eventbus.SweepSubmitted.
type Receipt struct {
	ChatID      int64
	RunID       string
	Directive   DirectiveKind
	Lamports    uint64
	Signature   solana.Signature
	Source      solana.PublicKey
	Destination solana.PublicKey
	At          time.Time
}

// Deps are the collaborators shared by all workers.
type Deps struct {
	Ledger ledger.Client
	Notify Notifier
	Bus    eventbus.Bus
	Log    logx.Logger
	// Sleep defaults to supervisor.Sleep; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) bool
}

// Worker is one sweep session.
type Worker struct {
	deps   Deps
	policy Policy
	req    Request
	log    logx.Logger

	key    solana.PrivateKey
	source solana.PublicKey
	dest   solana.PublicKey

	sess          *session.Session
	mu            sync.Mutex
	state         State
	warnedForeign bool
	races         int
	warnedStuck   bool
}

// stuckRaceLimit is how many consecutive race rejections pass before the
// user is told the session is not making progress.
const stuckRaceLimit = 5

func NewWorker(deps Deps, policy Policy, req Request) *Worker {
	if deps.Sleep == nil {
		deps.Sleep = supervisor.Sleep
	}
	return &Worker{
		deps:   deps,
		policy: policy.withDefaults(),
		req:    req,
		log:    deps.Log.With(logx.String("comp", "sweep"), logx.Int64("chat_id", req.ChatID)),
		state:  StateStarting,
	}
}

// State returns the current state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) to(next State) {
	w.mu.Lock()
	prev := w.state
	if !canTransition(prev, next) {
		w.mu.Unlock()
		w.log.Error("illegal state transition", logx.String("from", prev.String()), logx.String("to", next.String()))
		return
	}
	w.state = next
	w.mu.Unlock()
	if w.sess != nil {
		w.sess.SetState(next.String())
	}
	if prev != next {
		w.log.Trace("state", logx.String("from", prev.String()), logx.String("to", next.String()))
	}
}

func (w *Worker) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil || (w.sess != nil && w.sess.Cancelled())
}

// Run is a session.RunFunc. It returns nil when stopped or after the account
// was closed, and the fatal *Error otherwise.
func (w *Worker) Run(ctx context.Context, s *session.Session) error {
	w.sess = s
	if s != nil {
		w.log = w.log.With(logx.String("run_id", s.RunID))
		s.SetState(StateStarting.String())
	}

	if err := w.start(ctx); err != nil {
		return w.fail(ctx, err)
	}

	backoff := w.policy.TransportBackoff
	for {
		if w.cancelled(ctx) {
			w.to(StateStopped)
			return nil
		}
		w.to(StatePolling)
		if s != nil {
			s.AddAttempt()
		}

		snap, err := w.poll(ctx)
		if err != nil {
			if w.cancelled(ctx) {
				continue
			}
			w.log.Warn("poll failed", logx.Err(err), logx.Duration("backoff", backoff))
			w.record(err)
			w.deps.Sleep(ctx, backoff)
			backoff = min(backoff*2, w.policy.TransportBackoffMax)
			continue
		}
		backoff = w.policy.TransportBackoff

		d := w.inspect(ctx, snap)
		if d.Kind == None {
			w.races = 0
			w.to(StateIdle)
			w.deps.Sleep(ctx, w.policy.IdleDelay)
			continue
		}

		if w.cancelled(ctx) {
			continue
		}
		w.to(StateSubmitting)
		rcpt, err := w.submit(ctx, snap, d)
		if err != nil {
			var we *Error
			if !errors.As(err, &we) {
				we = newError(TransportError, "", err)
			}
			switch {
			case we.Kind.Fatal():
				return w.fail(ctx, we)
			case we.Kind == PreconditionRace:
				w.log.Debug("submission raced with a state change", logx.Err(err))
				w.noteRace(ctx, we)
				w.to(StateIdle)
				w.deps.Sleep(ctx, w.policy.TransportBackoff)
			default:
				w.races = 0
				w.log.Warn("submission failed", logx.Err(err), logx.Duration("backoff", backoff))
				w.record(err)
				w.to(StateIdle)
				w.deps.Sleep(ctx, backoff)
				backoff = min(backoff*2, w.policy.TransportBackoffMax)
			}
			continue
		}

		w.races = 0
		w.record(nil)
		w.reportSuccess(ctx, rcpt)
		if d.Kind == CloseAndReclaim {
			w.to(StateTerminated)
			return nil
		}
		w.to(StateIdle)
		w.deps.Sleep(ctx, w.policy.Cooldown)
	}
}

// start resolves key material and destination, then pre-classifies the
// account once.
func (w *Worker) start(ctx context.Context) error {
	key, err := ledger.ParsePrivateKey(w.req.Key)
	if err != nil {
		return newError(ConfigError, "bad private key", err)
	}
	dest, err := ledger.ParseAddress(w.req.Destination)
	if err != nil {
		return newError(ConfigError, "bad destination address", err)
	}
	w.key = key
	w.source = key.PublicKey()
	w.dest = dest
	if w.source.Equals(w.dest) {
		return newError(ConfigError, "destination is the watched address", nil)
	}
	w.log = w.log.With(logx.String("source", w.source.String()), logx.String("dest", w.dest.String()))

	w.notify(ctx, fmt.Sprintf("👀 <b>Sweeper active</b>\nWatching: <code>%s</code>\nForwarding to: <code>%s</code>",
		w.source, w.dest))

	info, err := w.deps.Ledger.GetAccountInfo(ctx, w.source)
	if err != nil {
		// Not fatal: the poll loop retries.
		w.log.Warn("pre-classification failed", logx.Err(err))
		return nil
	}
	if info != nil {
		snap := snapshotOf(w.source, info.Lamports, info)
		w.warnIfForeign(ctx, snap)
		w.log.Info("watching account",
			logx.String("kind", Classify(snap).String()),
			logx.Uint64("lamports", snap.Lamports),
		)
	}
	return nil
}

// poll fetches a fresh snapshot. Account metadata is skipped for an empty
// balance since nothing can be moved.
func (w *Worker) poll(ctx context.Context) (Snapshot, error) {
	bal, err := w.deps.Ledger.GetBalance(ctx, w.source)
	if err != nil {
		return Snapshot{}, err
	}
	if bal == 0 {
		return Snapshot{Address: w.source}, nil
	}
	info, err := w.deps.Ledger.GetAccountInfo(ctx, w.source)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(w.source, bal, info), nil
}

func snapshotOf(addr solana.PublicKey, bal uint64, info *ledger.AccountInfo) Snapshot {
	s := Snapshot{Address: addr, Lamports: bal}
	if info == nil {
		// Balance and metadata disagree (closed in between); treat as empty.
		s.Lamports = 0
		return s
	}
	s.Owner = info.Owner
	s.Data = info.Data
	s.Initialized = true
	if s.Owner.Equals(solana.TokenProgramID) {
		s.Initialized = len(s.Data) >= tokenAccountSize && s.Data[tokenStateOffset] != tokenStateUninit
	}
	return s
}

func (w *Worker) inspect(ctx context.Context, snap Snapshot) Directive {
	w.warnIfForeign(ctx, snap)
	return Select(snap, w.policy.FeeBuffer)
}

func (w *Worker) warnIfForeign(ctx context.Context, snap Snapshot) {
	if Classify(snap) != Foreign || w.warnedForeign {
		return
	}
	w.warnedForeign = true
	w.log.Warn("account owned by a foreign program", logx.String("owner", snap.Owner.String()))
	w.notify(ctx, fmt.Sprintf("⚠️ <code>%s</code> is owned by program <code>%s</code>, which this key cannot authorize. Still watching in case that changes.",
		snap.Address, snap.Owner))
}

// submit builds, signs and sends the transaction for d. Cancellation is only
// checked before it starts; a running submission is finished on a context
// detached from the session.
func (w *Worker) submit(ctx context.Context, snap Snapshot, d Directive) (Receipt, error) {
	var (
		u   Unsigned
		err error
	)
	switch d.Kind {
	case Transfer:
		u, err = BuildTransfer(w.source, w.dest, d.Amount)
	case CloseAndReclaim:
		if err := w.checkAuthority(snap); err != nil {
			return Receipt{}, err
		}
		u, err = BuildCloseAccount(w.source, w.dest, w.source)
	default:
		return Receipt{}, fmt.Errorf("unexpected directive %s", d.Kind)
	}
	if err != nil {
		return Receipt{}, newError(ConfigError, "cannot build transaction", err)
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.policy.SubmitTimeout)
	defer cancel()

	anchor, err := w.deps.Ledger.GetRecentAnchor(sctx)
	if err != nil {
		return Receipt{}, classifyLedger(d, err)
	}
	signed, err := Sign(u, anchor, w.key)
	if err != nil {
		return Receipt{}, newError(AuthorityMismatch, "cannot sign transaction", err)
	}
	sig, err := w.deps.Ledger.Submit(sctx, signed.Raw)
	if err != nil {
		return Receipt{}, classifyLedger(d, err)
	}

	amount := d.Amount
	if d.Kind == CloseAndReclaim {
		amount = snap.Lamports
	}
	r := Receipt{
		ChatID:      w.req.ChatID,
		Directive:   d.Kind,
		Lamports:    amount,
		Signature:   sig,
		Source:      w.source,
		Destination: w.dest,
		At:          time.Now(),
	}
	if w.sess != nil {
		r.RunID = w.sess.RunID
	}
	return r, nil
}

// checkAuthority verifies from the account data that the key owns the token
// account before a close is attempted.
func (w *Worker) checkAuthority(snap Snapshot) error {
	owner, ok := snap.TokenAuthority()
	if !ok {
		return newError(AuthorityMismatch, "the account is not an SPL token account", nil)
	}
	if !owner.Equals(w.source) {
		return newError(AuthorityMismatch, fmt.Sprintf("the token account is owned by %s", owner), nil)
	}
	if snap.Frozen() {
		return newError(AuthorityMismatch, "the token account is frozen", nil)
	}
	return nil
}

func (w *Worker) reportSuccess(ctx context.Context, r Receipt) {
	w.log.Info("sweep submitted",
		logx.String("directive", r.Directive.String()),
		logx.Uint64("lamports", r.Lamports),
		logx.String("sig", r.Signature.String()),
	)
	if w.deps.Bus != nil {
		w.deps.Bus.Publish(eventbus.Event{Type: eventbus.SweepSubmitted, Time: r.At, Data: r})
	}

	var text string
	switch r.Directive {
	case CloseAndReclaim:
		text = fmt.Sprintf("🧹 <b>Closed!</b>\nReclaimed %s SOL of rent\nSig: <code>%s</code>\nThe account is gone; sweeper stopped.",
			FormatSOL(r.Lamports), r.Signature)
	default:
		text = fmt.Sprintf("🧹 <b>Swept!</b>\nMoved %s SOL\nSig: <code>%s</code>", FormatSOL(r.Lamports), r.Signature)
	}
	// The session may have been stopped mid-submission; the report still goes out.
	w.notify(context.WithoutCancel(ctx), text)
}

// noteRace counts consecutive race rejections and warns the user once when
// they keep coming. The session keeps retrying.
func (w *Worker) noteRace(ctx context.Context, err *Error) {
	w.races++
	w.record(err)
	if w.races < stuckRaceLimit || w.warnedStuck {
		return
	}
	w.warnedStuck = true
	reason := "state changed before submission"
	var le *ledger.Error
	if errors.As(err, &le) && le.Reason != "" {
		reason = le.Reason
	}
	w.log.Warn("submissions keep racing", logx.Int("races", w.races), logx.String("reason", reason))
	w.notify(ctx, fmt.Sprintf("⚠️ The network rejected the last %d submissions (<code>%s</code>). Still retrying; use /stop to end the session.",
		w.races, html.EscapeString(reason)))
}

// fail reports a fatal error once and moves to Stopped.
func (w *Worker) fail(ctx context.Context, err error) error {
	w.record(err)
	w.log.Warn("sweeper stopped", logx.Err(err))
	w.notify(context.WithoutCancel(ctx), "❌ "+html.EscapeString(userMessage(err)))
	w.to(StateStopped)
	return err
}

func userMessage(err error) string {
	var we *Error
	if errors.As(err, &we) && we.Kind == ConfigError && we.Err != nil && errors.Is(we.Err, ledger.ErrBadKey) {
		// Parse errors may echo fragments of the input; keep secrets out of chat.
		return "Sweeper stopped: " + we.Msg
	}
	return "Sweeper stopped: " + err.Error()
}

func (w *Worker) record(err error) {
	if w.sess != nil {
		w.sess.SetLastError(err)
	}
}

func (w *Worker) notify(ctx context.Context, text string) {
	if w.deps.Notify == nil {
		return
	}
	if err := w.deps.Notify.Send(ctx, w.req.ChatID, text, formatHTML); err != nil {
		w.log.Warn("notify failed", logx.Err(err))
	}
}
