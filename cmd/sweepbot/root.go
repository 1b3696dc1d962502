package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sweepbot",
		Short:         "Telegram bot that sweeps Solana wallets and mines vanity addresses",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newVanityCmd())
	return root
}
