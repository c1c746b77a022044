// Command bookrag serves and runs evidence-gated queries over per-publisher
// book indexes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/bookrag/internal/config"
	"github.com/kailas-cloud/bookrag/internal/version"
)

type rootFlags struct {
	env      string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "bookrag",
		Short:         "Hybrid retrieval with evidence gating over book corpora",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.env, "env", config.GetEnv(), "config environment (config/<env>.yaml)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level: debug, info, warn, error")

	cmd.AddCommand(newServeCmd(flags), newQueryCmd(flags), newStatusCmd(flags))
	return cmd
}
