package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"sweepbot/internal/vanity"
)

// The bot caps prefixes lower; offline runs may take as long as they like.
const maxOfflinePrefix = 8

func newVanityCmd() *cobra.Command {
	var (
		prefix  string
		workers int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "vanity",
		Short: "Mine a keypair whose address starts with a prefix",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := vanity.ValidatePrefix(prefix, maxOfflinePrefix); err != nil {
				return err
			}
			if workers <= 0 {
				workers = runtime.NumCPU()
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			if timeout > 0 {
				var tcancel context.CancelFunc
				ctx, tcancel = context.WithTimeout(ctx, timeout)
				defer tcancel()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render("Mining vanity address"))
			fmt.Fprintln(out, row("prefix", prefix, valueStyle))
			fmt.Fprintln(out, row("workers", fmt.Sprint(workers), valueStyle))
			fmt.Fprintln(out, faintStyle.Render(fmt.Sprintf("~%.0f keys expected", vanity.ExpectedAttempts(prefix))))

			var tried atomic.Uint64
			res, err := vanity.Grind(ctx, prefix, vanity.Options{
				Workers:  workers,
				Progress: func(n uint64) { tried.Add(n) },
			})
			if err != nil {
				return fmt.Errorf("no match after %d keys: %w", tried.Load(), err)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, row("address", res.Address.String(), valueStyle))
			fmt.Fprintln(out, row("private key", res.Key.String(), secretStyle))
			fmt.Fprintln(out, faintStyle.Render(fmt.Sprintf("%d keys in %s", res.Attempts, res.Elapsed.Round(time.Millisecond))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "base58 prefix to search for")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "grinding goroutines (default: number of CPUs)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 = until interrupted)")
	_ = cmd.MarkFlagRequired("prefix")
	return cmd
}
