// Package cli is the medride command line client.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meditransport/medride/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the command tree around env
func NewRootCmd(env *commands.Env, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "medride",
		Short: "MediTransport - medical ride booking from the terminal",
		Long: `medride signs you in to MediTransport, keeps the session fresh and
lets you book, pay for and follow rides.

Tokens are kept in the OS keyring by default. Set MEDRIDE_TOKENS_BACKEND
to file, redis or memory to change that.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return commands.ValidateEnv(env)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&env.ConfigPath, "config", "", "Config file (default: ./medride.yaml)")
	flags.StringVar(&env.APIURL, "api-url", "", "Override the API base URL")
	flags.StringVarP(&env.Output, "output", "o", "table", "Output format: table, json or yaml")
	flags.StringVar(&env.MetricsAddr, "metrics-addr", "", "Serve session metrics on this address")
	flags.BoolVarP(&env.Verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(env.Out, "medride version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewLoginCmd(env))
	rootCmd.AddCommand(commands.NewRegisterCmd(env))
	rootCmd.AddCommand(commands.NewLogoutCmd(env))
	rootCmd.AddCommand(commands.NewWhoamiCmd(env))
	rootCmd.AddCommand(commands.NewRefreshCmd(env))
	rootCmd.AddCommand(commands.NewDashCmd(env))
	rootCmd.AddCommand(commands.NewOpenCmd(env))
	rootCmd.AddCommand(commands.NewRidesCmd(env))
	rootCmd.AddCommand(commands.NewPaymentsCmd(env))
	rootCmd.AddCommand(commands.NewListenCmd(env))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := commands.NewEnv()
	if err := NewRootCmd(env, version).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(env.Err, "Error: %v\n", err)
		return err
	}
	return nil
}
