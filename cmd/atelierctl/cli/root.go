// Package cli implements atelierctl, the operator tool for inspecting the access
// matrix, evaluating principals offline and managing audit jobs.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	redisAddr string
	pgDSN     string
}

// NewRootCommand builds the atelierctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "atelierctl",
		Short:         "Operate the atelier access gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.redisAddr, "redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "redis address of the job queue")
	root.PersistentFlags().StringVar(&opts.pgDSN, "pg-dsn", os.Getenv("PG_DSN"), "postgres DSN of the audit store")

	root.AddCommand(
		newCatalogCommand(),
		newCheckCommand(),
		newJobsCommand(opts),
		newAuditCommand(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
