package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/asaidimu/go-loom/core/persistence"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/memory"
	"github.com/spf13/cobra"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <schema-dir>",
		Short: "Validate schema descriptors",
		Long: `Parse and register every schema descriptor under a directory and print
the reference paths of each schema. Nothing is written to a backend.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.OutOrStdout(), args[0])
		},
	}
}

func runCheck(w io.Writer, path string) error {
	defs, err := schema.ParseDir(path)
	if err != nil {
		return err
	}

	dir, err := persistence.NewDirectory(memory.NewDriver(nil))
	if err != nil {
		return err
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	for _, def := range defs {
		// Declared hooks only carry names here; their functions are bound by
		// the program that embeds the directory.
		declared := *def
		declared.Hooks = nil
		if _, err := dir.RegisterSchema(&declared); err != nil {
			return fmt.Errorf("%s: %w", def.Name, err)
		}
		printDefinition(w, def, dir.Database())
	}
	fmt.Fprintf(w, "%d schema(s) valid\n", len(defs))
	return nil
}

func printDefinition(w io.Writer, def *schema.Definition, fallbackDB string) {
	db := def.DB
	if db == "" {
		db = fallbackDB
	}
	fmt.Fprintf(w, "%s (db: %s)\n", def.Name, db)
	for _, ref := range def.Refs {
		path := ref.Path
		if ref.IsArray {
			path += "[]"
		}
		fmt.Fprintf(w, "  %s -> %s\n", path, ref.Scheme)
	}

	phases := make([]string, 0, len(def.Hooks))
	for phase := range def.Hooks {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	for _, phase := range phases {
		for _, spec := range def.Hooks[phase] {
			fmt.Fprintf(w, "  hook %s %s (priority %d)\n", phase, spec.Name, spec.Priority)
		}
	}
}
