// Command ledgerctl administers the equipment ledger directly against the
// configured store, without going through the HTTP server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/app"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()
	app.UseNumericAmounts()

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Manage equipment items and donations",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("env-dir", ".", "Directory containing an optional .env file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log ledger activity to stderr")

	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(addEquipmentCmd())
	rootCmd.AddCommand(updateEquipmentCmd())
	rootCmd.AddCommand(recordDonationCmd())
	rootCmd.AddCommand(setProgressCmd())
	rootCmd.AddCommand(voidDonationCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(backupCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
