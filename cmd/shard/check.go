package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"media-companion/internal/config"
)

func newCheckCharactersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-characters [path]",
		Short: "Validate a character catalog file and list its characters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "characters.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			catalog, err := config.LoadCharacters(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range catalog.Names() {
				ch, _ := catalog.Lookup(name)
				if _, err := fmt.Fprintf(out, "%s\t%s\t%v\n", ch.Name, ch.Source.Kind, ch.Source.Names()); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(out, "%d characters ok\n", len(catalog.Names()))
			return err
		},
	}
}
