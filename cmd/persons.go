package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/facematch"
)

var personsCmd = &cobra.Command{
	Use:   "persons",
	Short: "Manage confirmed persons",
}

var personsAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a person",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPersonsAdd,
}

var personsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persons",
	RunE:  runPersonsList,
}

func init() {
	rootCmd.AddCommand(personsCmd)
	personsCmd.AddCommand(personsAddCmd, personsListCmd)

	personsAddCmd.Flags().Bool("json", false, "Output as JSON")
	personsListCmd.Flags().Bool("json", false, "Output as JSON")
	personsListCmd.Flags().String("search", "", "Only list persons whose name contains this text (ignores case and accents)")
}

func runPersonsAdd(cmd *cobra.Command, args []string) error {
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

	person, err := store.AddPerson(ctx, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("adding person: %w", err)
	}

	if jsonOutput {
		return outputJSON(person)
	}
	fmt.Printf("Created person %d: %s\n", person.ID, person.Name)
	return nil
}

func runPersonsList(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	search := mustGetString(cmd, "search")

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

	persons, err := store.ListPersons(ctx)
	if err != nil {
		return fmt.Errorf("listing persons: %w", err)
	}
	if search != "" {
		filtered := make([]database.Person, 0, len(persons))
		for _, p := range persons {
			if facematch.MatchesPersonName(p.Name, search) {
				filtered = append(filtered, p)
			}
		}
		persons = filtered
	}

	if jsonOutput {
		return outputJSON(persons)
	}
	if len(persons) == 0 {
		fmt.Println("No persons found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED")
	for _, p := range persons {
		fmt.Fprintf(w, "%d\t%s\t%s\n", p.ID, p.Name, p.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
