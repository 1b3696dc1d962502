package sweep

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

var errZeroAmount = errors.New("transfer amount must be positive")

// Unsigned is an instruction set plus the keys that must sign it.
type Unsigned struct {
	Instructions []solana.Instruction
	Payer        solana.PublicKey
	Signers      []solana.PublicKey
}

// BuildTransfer moves amount lamports from source to dest.
func BuildTransfer(source, dest solana.PublicKey, amount uint64) (Unsigned, error) {
	if amount == 0 {
		return Unsigned{}, errZeroAmount
	}
	ix, err := system.NewTransferInstruction(amount, source, dest).ValidateAndBuild()
	if err != nil {
		return Unsigned{}, fmt.Errorf("build transfer: %w", err)
	}
	return Unsigned{
		Instructions: []solana.Instruction{ix},
		Payer:        source,
		Signers:      []solana.PublicKey{source},
	}, nil
}

// BuildCloseAccount closes a token account and sends its rent to dest.
// authority must be the account's owner and pays the fee.
func BuildCloseAccount(account, dest, authority solana.PublicKey) (Unsigned, error) {
	ix, err := token.NewCloseAccountInstruction(account, dest, authority, nil).ValidateAndBuild()
	if err != nil {
		return Unsigned{}, fmt.Errorf("build close: %w", err)
	}
	return Unsigned{
		Instructions: []solana.Instruction{ix},
		Payer:        authority,
		Signers:      []solana.PublicKey{authority},
	}, nil
}

// Signed is a serialized transaction ready for submission.
type Signed struct {
	Raw       []byte
	Signature solana.Signature
}

// Sign binds u to anchor and signs it with keys. The anchor must be fresh.
func Sign(u Unsigned, anchor solana.Hash, keys ...solana.PrivateKey) (Signed, error) {
	tx, err := solana.NewTransaction(u.Instructions, anchor, solana.TransactionPayer(u.Payer))
	if err != nil {
		return Signed{}, fmt.Errorf("new transaction: %w", err)
	}
	sigs, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(pk) {
				return &keys[i]
			}
		}
		return nil
	})
	if err != nil {
		return Signed{}, fmt.Errorf("sign: %w", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return Signed{}, fmt.Errorf("serialize: %w", err)
	}
	return Signed{Raw: raw, Signature: sigs[0]}, nil
}
