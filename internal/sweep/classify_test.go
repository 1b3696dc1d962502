package sweep

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"

	"sweepbot/internal/ledger"
)

func TestClassify(t *testing.T) {
	foreign := solana.NewWallet().PublicKey()
	tests := []struct {
		name string
		snap Snapshot
		want AccountKind
	}{
		{"empty system", Snapshot{Owner: solana.SystemProgramID}, Unfunded},
		{"empty token", Snapshot{Owner: solana.TokenProgramID}, Unfunded},
		{"empty foreign", Snapshot{Owner: foreign}, Unfunded},
		{"system", Snapshot{Owner: solana.SystemProgramID, Lamports: 1}, Standard},
		{"token", Snapshot{Owner: solana.TokenProgramID, Lamports: 1}, Token},
		{"foreign", Snapshot{Owner: foreign, Lamports: 1}, Foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.snap))
		})
	}
}

func TestSelectStandard(t *testing.T) {
	const fee = 5000
	for _, bal := range []uint64{0, 1, fee - 1, fee, fee + 1, 10000, 2039280, 1 << 40} {
		d := Select(Snapshot{Owner: solana.SystemProgramID, Lamports: bal}, fee)
		if bal > fee {
			assert.Equal(t, Directive{Kind: Transfer, Amount: bal - fee}, d, "balance %d", bal)
		} else {
			assert.Equal(t, Directive{Kind: None}, d, "balance %d", bal)
		}
	}
}

func TestSelectToken(t *testing.T) {
	for _, bal := range []uint64{1, 4999, 5000, 2039280, 1 << 40} {
		d := Select(Snapshot{Owner: solana.TokenProgramID, Lamports: bal}, 5000)
		assert.Equal(t, Directive{Kind: CloseAndReclaim}, d, "balance %d", bal)
	}
	assert.Equal(t, None, Select(Snapshot{Owner: solana.TokenProgramID}, 5000).Kind)
}

func TestSelectForeignIsNone(t *testing.T) {
	d := Select(Snapshot{Owner: solana.NewWallet().PublicKey(), Lamports: 1 << 40}, 5000)
	assert.Equal(t, None, d.Kind)
}

func TestSnapshotTokenFields(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	info := tokenAccount(owner, 2039280, tokenAccountFrozen)
	snap := snapshotOf(owner, 2039280, info)

	got, ok := snap.TokenAuthority()
	assert.True(t, ok)
	assert.Equal(t, owner, got)
	assert.True(t, snap.Frozen())
	assert.True(t, snap.Initialized)

	uninit := snapshotOf(owner, 2039280, tokenAccount(owner, 2039280, 0))
	assert.False(t, uninit.Initialized)

	gone := snapshotOf(owner, 2039280, nil)
	assert.Equal(t, Unfunded, Classify(gone))
}

func TestClassifyLedger(t *testing.T) {
	transfer := Directive{Kind: Transfer, Amount: 1}
	closeAcc := Directive{Kind: CloseAndReclaim}
	tests := []struct {
		name string
		d    Directive
		err  error
		want ErrorKind
	}{
		{"plain", transfer, errors.New("eof"), TransportError},
		{"race", transfer, raceError("BlockhashNotFound"), PreconditionRace},
		{"negative lamports", transfer, programError(systemResultWithNegativeLamports), PreconditionRace},
		{"unknown system code", transfer, programError(3), TransportError},
		{"owner mismatch", closeAcc, programError(tokenOwnerMismatch), AuthorityMismatch},
		{"frozen", closeAcc, programError(tokenAccountFrozenCode), AuthorityMismatch},
		{"still holds tokens", closeAcc, programError(tokenNonNativeHasBalance), PreconditionRace},
		{"missing signature", closeAcc, &ledger.Error{Kind: ledger.KindSignature, Custom: -1}, AuthorityMismatch},
		{"invalid", transfer, &ledger.Error{Kind: ledger.KindInvalid, Custom: -1}, ConfigError},
		{"transport", transfer, &ledger.Error{Kind: ledger.KindTransport, Custom: -1}, TransportError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyLedger(tt.d, tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.want.Fatal(), got.Kind.Fatal())
		})
	}
}

func TestFormatSOL(t *testing.T) {
	assert.Equal(t, "0.000005", FormatSOL(5000))
	assert.Equal(t, "0.00203928", FormatSOL(2039280))
	assert.Equal(t, "1", FormatSOL(1_000_000_000))
	assert.Equal(t, "0", FormatSOL(0))
}
