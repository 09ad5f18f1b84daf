package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/resolver"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Run one resolution pass over unconfirmed faces",
	Long: `Run one resolution pass.

Every face without a confirmed person that was not yet resolved against the
current store revision is compared with its nearest neighbors. A face whose
neighbors agree on a confirmed person gets that person as a suggestion; other
faces join or form clusters of look-alike faces. Re-running without new faces
or confirmations is a no-op.

Examples:
  # Resolve with the configured number of workers
  face-resolver resolve

  # More workers, JSON report for scripting
  face-resolver resolve --workers 8 --json`,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().Int("workers", 0, "Number of parallel workers (default from RESOLVER_WORKERS)")
	resolveCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

func runResolve(cmd *cobra.Command, args []string) error {
	workers := mustGetInt(cmd, "workers")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := resolver.OptionsFromConfig(cfg.Resolver)
	if workers > 0 {
		opts.Workers = workers
	}

	var report *resolver.Report
	err = database.WithRunLock(ctx, store, database.LockHolder(), func(ctx context.Context) error {
		index, err := openWritableIndex(ctx, cfg)
		if err != nil {
			return err
		}
		defer index.Close()

		run := resolver.NewRun(store, index, opts)
		run.Logger = slog.Default()

		bar := newProgressBar(-1, "Resolving faces", "faces", jsonOutput)
		if bar != nil {
			fmt.Printf("Index holds %d faces (dimension %d)\n", index.Len(), index.Dimension())
			run.OnProgress = func(done, total int) {
				if bar.GetMax() != total {
					bar.ChangeMax(total)
				}
				_ = bar.Set(done)
			}
			defer bar.Finish()
		}

		report, err = run.Resolve(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("resolution run failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(report)
	}

	fmt.Printf("\n\nRun %d against revision %d finished in %s\n", report.RunID, report.Revision, formatDuration(report.Duration))
	if report.Synced > 0 {
		fmt.Printf("  Indexed from store: %d\n", report.Synced)
	}
	fmt.Printf("  Considered:  %d\n", report.Considered)
	fmt.Printf("  Suggested:   %d\n", report.Suggested)
	fmt.Printf("  Clustered:   %d (%d new clusters, %d merged)\n", report.Clustered, report.NewClusters, report.Merged)
	fmt.Printf("  Unresolved:  %d\n", report.Unresolved)
	if report.Skipped > 0 {
		fmt.Printf("  Skipped:     %d (confirmed during the run)\n", report.Skipped)
	}
	if report.Failed > 0 {
		fmt.Printf("  Failed:      %d (retried on the next run)\n", report.Failed)
	}
	return nil
}
