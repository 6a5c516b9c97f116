package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/relsdk/client"
)

func newDBCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Create, clone and check databases",
	}
	cmd.AddCommand(newDBCreateCommand(app), newDBCloneCommand(app), newDBPingCommand(app))
	return cmd
}

func newDBCreateCommand(app *cli) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "create <db>",
		Short: "Create a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			res, err := c.CreateDatabase(cmd.Context(), args[0], overwrite)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created %s at version %d\n", args[0], res.Version)
			return err
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing database")
	return cmd
}

func newDBCloneCommand(app *cli) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "clone <source-db> <clone-db>",
		Short: "Clone a database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			res, err := c.CloneDatabase(cmd.Context(), args[1], args[0], overwrite)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cloned %s to %s at version %d\n", args[0], args[1], res.Version)
			return err
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing clone target")
	return cmd
}

func newDBPingCommand(app *cli) *cobra.Command {
	var compute string
	cmd := &cobra.Command{
		Use:   "ping <db>",
		Short: "Open a database read-only and print its version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			res, err := c.Database(args[0], compute).Ping(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s version %d\n", args[0], res.Version)
			return err
		},
	}
	cmd.Flags().StringVar(&compute, "on", "", "compute to run on")
	return cmd
}

func callOptions(compute string, write bool) []client.CallOption {
	var opts []client.CallOption
	if compute != "" {
		opts = append(opts, client.WithCompute(compute))
	}
	if write {
		opts = append(opts, client.WithWrite())
	}
	return opts
}
