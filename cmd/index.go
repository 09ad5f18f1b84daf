package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/face-resolver/internal/constants"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect and rebuild the embedding index",
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show embedding index statistics",
	RunE:  runIndexStats,
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the embedding index from the identity store",
	Long: `Rebuild the embedding index from every embedding in the identity store.

The new snapshot replaces the old one and the write-ahead log is discarded.
Embeddings whose dimension does not match INDEX_DIMENSION are skipped.`,
	RunE: runIndexRebuild,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexStatsCmd, indexRebuildCmd)

	indexStatsCmd.Flags().Bool("json", false, "Output as JSON")
	indexRebuildCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

func runIndexStats(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	index, err := openIndex(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	st := index.Stats()
	if jsonOutput {
		return outputJSON(st)
	}

	fmt.Printf("Faces:        %d\n", st.Count)
	fmt.Printf("Dimension:    %d\n", st.Dimension)
	fmt.Printf("Metric:       %s\n", st.Metric)
	fmt.Printf("Max face ID:  %d\n", st.MaxFaceID)
	if st.BuildTime.IsZero() {
		fmt.Println("Snapshot:     none")
	} else {
		fmt.Printf("Snapshot:     %s (built %s)\n", st.Snapshot, st.BuildTime.Format("2006-01-02 15:04:05"))
	}
	if st.WALPath != "" {
		fmt.Printf("WAL:          %s (%d pending, %d replayed)\n", st.WALPath, st.Pending, st.Replayed)
	}
	return nil
}

// rebuildResult summarises an index rebuild.
type rebuildResult struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var res rebuildResult
	err = database.WithRunLock(ctx, store, database.LockHolder(), func(ctx context.Context) error {
		opts, err := indexOptions(ctx, cfg)
		if err != nil {
			return err
		}
		index := database.NewEmbeddingIndex(opts)

		bar := newProgressBar(-1, "Indexing embeddings", "faces", jsonOutput)
		var after int64
		for {
			page, err := store.ListEmbeddings(ctx, after, constants.EmbeddingPageSize)
			if err != nil {
				return fmt.Errorf("listing embeddings: %w", err)
			}
			for _, rec := range page {
				after = rec.FaceID
				var dimErr *database.DimensionMismatchError
				switch err := index.Add(rec.FaceID, rec.Embedding); {
				case err == nil:
					res.Indexed++
				case errors.As(err, &dimErr):
					res.Skipped++
					cmd.PrintErrf("skipping face %d: %v\n", rec.FaceID, err)
				default:
					return fmt.Errorf("indexing face %d: %w", rec.FaceID, err)
				}
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			if len(page) < constants.EmbeddingPageSize {
				break
			}
		}
		if bar != nil {
			_ = bar.Finish()
		}

		if err := index.Persist(ctx); err != nil {
			return err
		}
		if opts.WALDir != "" {
			if err := os.RemoveAll(opts.WALDir); err != nil {
				return fmt.Errorf("removing write-ahead log: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(res)
	}
	fmt.Printf("\nIndexed %d faces", res.Indexed)
	if res.Skipped > 0 {
		fmt.Printf(" (%d skipped with a mismatched dimension)", res.Skipped)
	}
	fmt.Println()
	return nil
}
