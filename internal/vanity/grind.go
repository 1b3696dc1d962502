// Package vanity searches for keypairs whose base58 address starts with a
// chosen prefix.
package vanity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

// Alphabet is the base58 alphabet used for Solana addresses.
const Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var ErrBadPrefix = errors.New("invalid prefix")

// progressEvery is how many keys a worker generates between progress reports
// and context checks.
const progressEvery = 512

// ValidatePrefix checks that prefix can appear in an address.
func ValidatePrefix(prefix string, maxLen int) error {
	if prefix == "" {
		return fmt.Errorf("%w: empty", ErrBadPrefix)
	}
	if maxLen > 0 && len(prefix) > maxLen {
		return fmt.Errorf("%w: longer than %d characters", ErrBadPrefix, maxLen)
	}
	for _, r := range prefix {
		if !strings.ContainsRune(Alphabet, r) {
			return fmt.Errorf("%w: %q is not a base58 character (0, O, I and l never appear)", ErrBadPrefix, r)
		}
	}
	return nil
}

// Result is a matching keypair.
type Result struct {
	Key      solana.PrivateKey
	Address  solana.PublicKey
	Attempts uint64
	Elapsed  time.Duration
}

// Options tunes Grind.
type Options struct {
	Workers int
	// Progress, if set, receives attempt counts in batches.
	Progress func(n uint64)
	// newKey is replaced in tests.
	newKey func() (solana.PrivateKey, error)
}

var errFound = errors.New("found")

// Grind generates keys on opts.Workers goroutines until one address starts
// with prefix or ctx is done. The match is case sensitive.
func Grind(ctx context.Context, prefix string, opts Options) (Result, error) {
	if err := ValidatePrefix(prefix, 0); err != nil {
		return Result{}, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	newKey := opts.newKey
	if newKey == nil {
		newKey = solana.NewRandomPrivateKey
	}

	var (
		attempts atomic.Uint64
		once     sync.Once
		res      Result
		start    = time.Now()
	)
	g, gctx := errgroup.WithContext(ctx)
	for range opts.Workers {
		g.Go(func() error {
			var batch uint64
			flush := func() {
				attempts.Add(batch)
				if opts.Progress != nil && batch > 0 {
					opts.Progress(batch)
				}
				batch = 0
			}
			defer flush()
			for {
				if batch >= progressEvery {
					flush()
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				k, err := newKey()
				if err != nil {
					return fmt.Errorf("generate key: %w", err)
				}
				batch++
				pub := k.PublicKey()
				if strings.HasPrefix(pub.String(), prefix) {
					once.Do(func() {
						res = Result{Key: k, Address: pub}
					})
					return errFound
				}
			}
		})
	}

	err := g.Wait()
	res.Attempts = attempts.Load()
	res.Elapsed = time.Since(start)
	if errors.Is(err, errFound) {
		return res, nil
	}
	if err == nil {
		err = ctx.Err()
	}
	return res, err
}

// ExpectedAttempts estimates the mean number of keys needed for prefix.
func ExpectedAttempts(prefix string) float64 {
	n := 1.0
	for range prefix {
		n *= float64(len(Alphabet))
	}
	return n
}
