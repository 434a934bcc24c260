package main

import (
	"fmt"

	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
)

var manCmd = &cobra.Command{
	Use:                   "man",
	Short:                 "Generates manpages",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Hidden:                true,
	Args:                  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		manPage, err := mcobra.NewManPage(1, rootCmd)
		if err != nil {
			return err //nolint:wrapcheck
		}

		manPage = manPage.WithSection("Files", "The configuration is read from prayon.yml in the user config directory,\n"+
			"$XDG_CONFIG_HOME/prayon or $PRAYON_CONFIG_HOME. Logs are written to prayon.log in the user cache directory.")
		_, err = fmt.Fprintln(cmd.OutOrStdout(), manPage.Build(roff.NewDocument()))
		return err //nolint:wrapcheck
	},
}
