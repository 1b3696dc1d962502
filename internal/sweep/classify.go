package sweep

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Token account layout offsets (165-byte SPL token account).
const (
	tokenAccountSize   = 165
	tokenOwnerOffset   = 32
	tokenStateOffset   = 108
	tokenStateUninit   = 0
	tokenAccountFrozen = 2
)

// AccountKind is the classification of a snapshot by its owning program.
type AccountKind int

const (
	Unfunded AccountKind = iota
	Standard
	Token
	Foreign
)

func (k AccountKind) String() string {
	switch k {
	case Unfunded:
		return "unfunded"
	case Standard:
		return "standard"
	case Token:
		return "token"
	case Foreign:
		return "foreign"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Snapshot is one poll's view of the watched account. It is never reused
// across polls.
type Snapshot struct {
	Address     solana.PublicKey
	Owner       solana.PublicKey
	Lamports    uint64
	Initialized bool
	Data        []byte
}

// TokenAuthority returns the owner field of an SPL token account.
func (s Snapshot) TokenAuthority() (solana.PublicKey, bool) {
	if len(s.Data) < tokenAccountSize {
		return solana.PublicKey{}, false
	}
	return solana.PublicKeyFromBytes(s.Data[tokenOwnerOffset : tokenOwnerOffset+32]), true
}

// Frozen reports whether an SPL token account is frozen by its mint.
func (s Snapshot) Frozen() bool {
	return len(s.Data) >= tokenAccountSize && s.Data[tokenStateOffset] == tokenAccountFrozen
}

// Classify maps a snapshot to its kind. An empty balance wins over ownership.
func Classify(s Snapshot) AccountKind {
	switch {
	case s.Lamports == 0:
		return Unfunded
	case s.Owner.Equals(solana.SystemProgramID):
		return Standard
	case s.Owner.Equals(solana.TokenProgramID):
		return Token
	default:
		return Foreign
	}
}

// DirectiveKind tags a Directive.
type DirectiveKind int

const (
	None DirectiveKind = iota
	Transfer
	CloseAndReclaim
)

func (k DirectiveKind) String() string {
	switch k {
	case None:
		return "none"
	case Transfer:
		return "transfer"
	case CloseAndReclaim:
		return "close"
	default:
		return fmt.Sprintf("directive(%d)", int(k))
	}
}

// Directive is the outgoing action chosen for one poll. Amount is set for
// Transfer only.
type Directive struct {
	Kind   DirectiveKind
	Amount uint64
}

// Select picks the directive for a snapshot. A transfer leaves feeBuffer
// lamports behind to pay for itself; a token account is closed whatever its
// balance.
func Select(s Snapshot, feeBuffer uint64) Directive {
	switch Classify(s) {
	case Standard:
		if s.Lamports > feeBuffer {
			return Directive{Kind: Transfer, Amount: s.Lamports - feeBuffer}
		}
	case Token:
		return Directive{Kind: CloseAndReclaim}
	}
	return Directive{Kind: None}
}
