package sweep

import (
	"errors"
	"fmt"

	"sweepbot/internal/ledger"
)

// ErrorKind decides what the worker does after a failure.
type ErrorKind int

const (
	// TransportError is retried with escalating backoff and only logged.
	TransportError ErrorKind = iota
	// PreconditionRace means chain state moved under us; retried quietly.
	PreconditionRace
	// ConfigError stops the session and is reported once.
	ConfigError
	// AuthorityMismatch stops the session and is reported once.
	AuthorityMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case TransportError:
		return "transport"
	case PreconditionRace:
		return "race"
	case ConfigError:
		return "config"
	case AuthorityMismatch:
		return "authority"
	default:
		return fmt.Sprintf("errkind(%d)", int(k))
	}
}

// Fatal reports whether the kind ends the session.
func (k ErrorKind) Fatal() bool { return k == ConfigError || k == AuthorityMismatch }

// Error is a classified worker failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of a worker error; unclassified errors count as
// transport failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return TransportError
}

// Program error codes from the system and SPL token programs that the
// sweeper reacts to.
const (
	systemResultWithNegativeLamports = 1

	tokenOwnerMismatch       = 4
	tokenUninitializedState  = 9
	tokenNonNativeHasBalance = 11
	tokenAccountFrozenCode   = 17
)

// classifyLedger maps a ledger failure during submission of d to a worker
// error kind.
func classifyLedger(d Directive, err error) *Error {
	var le *ledger.Error
	if !errors.As(err, &le) {
		return newError(TransportError, "", err)
	}
	switch le.Kind {
	case ledger.KindRace:
		return newError(PreconditionRace, "", err)
	case ledger.KindSignature:
		return newError(AuthorityMismatch, "the key cannot sign for this account", err)
	case ledger.KindInvalid:
		return newError(ConfigError, "the ledger rejected the transaction", err)
	case ledger.KindProgram:
		return classifyProgram(d, le.Custom, err)
	default:
		return newError(TransportError, "", err)
	}
}

func classifyProgram(d Directive, code int64, err error) *Error {
	switch d.Kind {
	case Transfer:
		if code == systemResultWithNegativeLamports {
			return newError(PreconditionRace, "", err)
		}
	case CloseAndReclaim:
		switch code {
		case tokenOwnerMismatch:
			return newError(AuthorityMismatch, "the key is not the token account owner", err)
		case tokenAccountFrozenCode:
			return newError(AuthorityMismatch, "the token account is frozen", err)
		case tokenNonNativeHasBalance, tokenUninitializedState:
			return newError(PreconditionRace, "", err)
		}
	}
	return newError(TransportError, "", err)
}
