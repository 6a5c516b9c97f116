package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/relsdk/internal/version"
)

func newVersionCommand() *cobra.Command {
	var short, semver bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the relctl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case short:
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Current())
				return err
			case semver:
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Semver())
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Module(), version.Current())
			return err
		},
	}
	cmd.Flags().BoolVar(&short, "version", false, "print only the version")
	cmd.Flags().BoolVar(&semver, "semver", false, "print only the semantic version")
	cmd.MarkFlagsMutuallyExclusive("version", "semver")
	return cmd
}
