package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/spf13/cobra"
)

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Inspect clusters of unconfirmed look-alike faces",
}

var clustersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clusters with their member faces",
	RunE:  runClustersList,
}

func init() {
	rootCmd.AddCommand(clustersCmd)
	clustersCmd.AddCommand(clustersListCmd)

	clustersListCmd.Flags().Int("min-size", 1, "Only show clusters with at least this many faces")
	clustersListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runClustersList(cmd *cobra.Command, args []string) error {
	minSize := mustGetInt(cmd, "min-size")
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

	all, err := store.ListClusters(ctx)
	if err != nil {
		return fmt.Errorf("listing clusters: %w", err)
	}
	clusters := []database.Cluster{}
	for _, c := range all {
		if len(c.FaceIDs) >= minSize {
			clusters = append(clusters, c)
		}
	}

	if jsonOutput {
		return outputJSON(clusters)
	}
	if len(clusters) == 0 {
		fmt.Println("No clusters found.")
		return nil
	}
	for _, c := range clusters {
		fmt.Printf("%s  (%d faces)  %v\n", c.ID, len(c.FaceIDs), c.FaceIDs)
	}
	fmt.Printf("\n%d clusters\n", len(clusters))
	return nil
}
