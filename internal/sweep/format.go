package sweep

import "github.com/shopspring/decimal"

const lamportsPerSOLExp = 9

// FormatSOL renders lamports as SOL without trailing zeros ("0.000005").
func FormatSOL(lamports uint64) string {
	return decimal.NewFromUint64(lamports).Shift(-lamportsPerSOLExp).String()
}
