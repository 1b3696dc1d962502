package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// Kind is the structural class of a ledger failure.
type Kind int

const (
	// KindTransport covers network failures, timeouts and node-side trouble.
	KindTransport Kind = iota
	// KindRace means chain state moved between read and submit
	// (stale blockhash, balance no longer covers the fee, account gone).
	KindRace
	// KindSignature means the transaction lacks a required signature.
	KindSignature
	// KindProgram is an instruction failure with a program-specific custom
	// code; see Error.Custom.
	KindProgram
	// KindInvalid is a request the node refuses as malformed.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRace:
		return "race"
	case KindSignature:
		return "signature"
	case KindProgram:
		return "program"
	case KindInvalid:
		return "invalid"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Error wraps a failed RPC call.
type Error struct {
	Op   string
	Kind Kind
	// Reason is the ledger's error name when one was reported
	// (e.g. "BlockhashNotFound", "InstructionError").
	Reason string
	// Custom is the program error code for KindProgram, -1 otherwise.
	Custom int64
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Reason != "" {
		msg += " (" + e.Reason
		if e.Custom >= 0 {
			msg += " " + strconv.FormatInt(e.Custom, 10)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindTransport when err is not an *Error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindTransport
}

// JSON-RPC codes the node uses for requests it refuses outright.
const (
	codeInvalidRequest = -32600
	codeInvalidParams  = -32602
)

// classify turns an error from the rpc client into *Error.
func classify(op string, err error) *Error {
	out := &Error{Op: op, Kind: KindTransport, Custom: -1, Err: err}

	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return out
	}
	switch rpcErr.Code {
	case codeInvalidRequest, codeInvalidParams:
		out.Kind = KindInvalid
	}

	data, ok := rpcErr.Data.(map[string]any)
	if !ok {
		return out
	}
	txErr, ok := data["err"]
	if !ok || txErr == nil {
		return out
	}
	classifyTxError(out, txErr)
	return out
}

// classifyTxError inspects the "err" field of a failed simulation, which is
// either a bare name ("BlockhashNotFound"), an object keyed by name
// ({"InsufficientFundsForRent":{...}}) or an instruction error
// ({"InstructionError":[0,{"Custom":1}]}).
func classifyTxError(out *Error, v any) {
	switch x := v.(type) {
	case string:
		out.Reason = x
		out.Kind = txErrorKind(x)
	case map[string]any:
		for name, detail := range x {
			out.Reason = name
			if name == "InstructionError" {
				classifyInstructionError(out, detail)
				return
			}
			out.Kind = txErrorKind(name)
			return
		}
	}
}

func txErrorKind(name string) Kind {
	switch name {
	case "BlockhashNotFound",
		"InsufficientFundsForFee",
		"InvalidAccountForFee",
		"AccountNotFound",
		"InsufficientFundsForRent",
		"AlreadyProcessed":
		return KindRace
	case "SignatureFailure", "MissingSignatureForFee":
		return KindSignature
	default:
		return KindTransport
	}
}

func classifyInstructionError(out *Error, detail any) {
	pair, ok := detail.([]any)
	if !ok || len(pair) != 2 {
		return
	}
	switch ie := pair[1].(type) {
	case string:
		out.Reason = ie
		switch ie {
		case "MissingRequiredSignature":
			out.Kind = KindSignature
		case "InsufficientFunds":
			out.Kind = KindRace
		}
	case map[string]any:
		if code, ok := ie["Custom"]; ok {
			if n, ok := toInt64(code); ok {
				out.Reason = "Custom"
				out.Kind = KindProgram
				out.Custom = n
			}
		}
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return classify(op, err)
}

var errEmptyResult = fmt.Errorf("empty result")
