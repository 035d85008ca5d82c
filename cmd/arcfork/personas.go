package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/arcfork/internal/persona"
)

func newPersonasCommand() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "personas [base-name]",
		Short: "List saved persona versions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store := persona.NewStore(cfg.Persona.Dir, cfg.Persona.BranchEvery)
			names, err := store.List()
			if err != nil {
				return err
			}

			type row struct {
				Name    string `json:"name"`
				Base    string `json:"base"`
				Version int    `json:"version"`
				Latest  bool   `json:"latest"`
			}
			var rows []row
			for _, name := range names {
				base, v := persona.ParseName(name)
				if len(args) == 1 && base != args[0] {
					continue
				}
				latest, err := store.Latest(base)
				if err != nil {
					return err
				}
				rows = append(rows, row{Name: name, Base: base, Version: v, Latest: latest == name})
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tBASE\tVERSION\tLATEST")
			for _, r := range rows {
				marker := ""
				if r.Latest {
					marker = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Name, r.Base, r.Version, marker)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
