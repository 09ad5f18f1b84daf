package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/kozaktomas/face-resolver/internal/constants"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/ingest"
	"github.com/spf13/cobra"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Import, list and confirm faces",
}

var facesImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import detected faces from a JSON lines file",
	Long: `Import detected faces from a JSON lines file ("-" reads stdin).

Each line holds one face:
  {"file": "2019/beach.jpg", "embedding": [...], "confidence": 0.98,
   "bbox": {"left": 120, "top": 40, "width": 64, "height": 80}}

A face whose box overlaps an already stored face of the same file is treated
as a re-detection and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runFacesImport,
}

var facesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List faces",
	RunE:  runFacesList,
}

var facesConfirmCmd = &cobra.Command{
	Use:   "confirm FACE_ID PERSON_ID",
	Short: "Confirm a face as a person (person 0 ignores the face)",
	Args:  cobra.ExactArgs(2),
	RunE:  runFacesConfirm,
}

func init() {
	rootCmd.AddCommand(facesCmd)
	facesCmd.AddCommand(facesImportCmd, facesListCmd, facesConfirmCmd)

	facesImportCmd.Flags().Bool("json", false, "Output as JSON instead of progress output")

	facesListCmd.Flags().String("state", "", "Filter by state: unresolved, suggested, clustered, confirmed")
	facesListCmd.Flags().Int("limit", constants.DefaultPageSize, "Maximum number of faces")
	facesListCmd.Flags().Int("offset", 0, "Number of faces to skip")
	facesListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runFacesImport(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	in := os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		in = f
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var res *ingest.Result
	err = database.WithRunLock(ctx, store, database.LockHolder(), func(ctx context.Context) error {
		index, err := openWritableIndex(ctx, cfg)
		if err != nil {
			return err
		}
		defer index.Close()

		importer := ingest.NewImporter(store, index, nil)
		bar := newProgressBar(-1, "Importing faces", "lines", jsonOutput)
		if bar != nil {
			importer.OnRecord = func(lines int) { _ = bar.Set(lines) }
			defer bar.Finish()
		}
		res, err = importer.Import(ctx, in)
		return err
	})
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(res)
	}
	fmt.Printf("\n\nImported %d faces from %d lines (%d re-detections skipped, %d invalid)\n",
		res.Imported, res.Lines, res.Duplicates, res.Invalid)
	return nil
}

func runFacesList(cmd *cobra.Command, args []string) error {
	state := mustGetString(cmd, "state")
	limit := mustGetInt(cmd, "limit")
	offset := mustGetInt(cmd, "offset")
	jsonOutput := mustGetBool(cmd, "json")

	status, ok := database.ParseFaceStatus(state)
	if !ok {
		return fmt.Errorf("invalid state %q", state)
	}

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

	faces, err := store.ListFaces(ctx, database.FaceFilter{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		return fmt.Errorf("listing faces: %w", err)
	}

	if jsonOutput {
		if faces == nil {
			faces = []database.Face{}
		}
		return outputJSON(faces)
	}

	if len(faces) == 0 {
		fmt.Println("No faces found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tSTATUS\tPERSON\tSUGGESTED\tCLUSTER")
	for i := range faces {
		f := &faces[i]
		cluster := f.ClusterID
		if cluster == "" {
			cluster = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			f.ID, f.FileRef, f.Status(), optionalID(f.PersonID), optionalID(f.SuggestedPersonID), cluster)
	}
	return w.Flush()
}

func runFacesConfirm(cmd *cobra.Command, args []string) error {
	faceID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid face id %q", args[0])
	}
	personID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || personID < 0 {
		return fmt.Errorf("invalid person id %q", args[1])
	}

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

	if err := store.ConfirmFace(ctx, faceID, personID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("cannot confirm: %w", err)
		}
		return fmt.Errorf("confirming face %d: %w", faceID, err)
	}

	if personID == database.SentinelPersonID {
		fmt.Printf("Face %d marked as ignored\n", faceID)
		return nil
	}
	fmt.Printf("Face %d confirmed as person %d\n", faceID, personID)
	return nil
}
