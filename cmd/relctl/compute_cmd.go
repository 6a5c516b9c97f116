package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pkt.systems/relsdk/api"
	"pkt.systems/relsdk/client"
)

func newComputeCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Manage computes on the control plane",
	}
	cmd.AddCommand(
		newComputeListCommand(app),
		newComputeCreateCommand(app),
		newComputeDeleteCommand(app),
		newComputeEventsCommand(app),
	)
	return cmd
}

func writeComputes(cmd *cobra.Command, format string, computes []api.Compute) error {
	if format != formatText {
		return writeStructured(cmd.OutOrStdout(), format, computes)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tSIZE\tREGION\tSTATE")
	for _, c := range computes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Name, c.ID, c.Size, c.Region, c.State)
	}
	return tw.Flush()
}

func newComputeListCommand(app *cli) *cobra.Command {
	var filter client.ComputeFilter
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List computes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			res, err := c.ListComputes(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return writeComputes(cmd, format, res.Computes)
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&filter.Names, "name", nil, "filter by name")
	flags.StringSliceVar(&filter.IDs, "id", nil, "filter by id")
	flags.StringSliceVar(&filter.Sizes, "size", nil, "filter by size")
	flags.StringSliceVar(&filter.States, "state", nil, "filter by state")
	flags.StringSliceVar(&filter.Regions, "region", nil, "filter by region")
	addFormatFlag(cmd, &format)
	return cmd
}

func newComputeCreateCommand(app *cli) *cobra.Command {
	var req api.CreateComputeRequest
	var format string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a compute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			req.Name = args[0]
			res, err := c.CreateCompute(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeComputes(cmd, format, []api.Compute{res.Compute})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.Size, "size", client.DefaultComputeSize, "compute size")
	flags.StringVar(&req.Region, "region", client.DefaultComputeRegion, "compute region")
	flags.BoolVar(&req.DryRun, "dry-run", false, "validate without creating")
	addFormatFlag(cmd, &format)
	return cmd
}

func newComputeDeleteCommand(app *cli) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a compute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			res, err := c.DeleteCompute(cmd.Context(), args[0], dryRun)
			if err != nil {
				return err
			}
			if !res.Deleted {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "would delete %s\n", res.Name)
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", res.Name)
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate without deleting")
	return cmd
}

func newComputeEventsCommand(app *cli) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "events <compute-id>",
		Short: "List the lifecycle events of a compute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			res, err := c.ListComputeEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if format != formatText {
				return writeStructured(cmd.OutOrStdout(), format, res.Events)
			}
			for _, ev := range res.Events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ev.CreatedOn, ev.Event)
			}
			return nil
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

func newDatabaseCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "database",
		Short: "List databases and change their settings on the control plane",
	}
	var filter client.DatabaseFilter
	var format string
	list := &cobra.Command{
		Use:   "list",
		Short: "List databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			res, err := c.ListDatabases(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if format != formatText {
				return writeStructured(cmd.OutOrStdout(), format, res.Databases)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATE\tVERSION\tDEFAULT COMPUTE")
			for _, db := range res.Databases {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", db.Name, db.State, db.Version, db.DefaultComputeName)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringSliceVar(&filter.Names, "name", nil, "filter by name")
	list.Flags().StringSliceVar(&filter.States, "state", nil, "filter by state")
	addFormatFlag(list, &format)

	var (
		defaultCompute string
		removeDefault  bool
		dryRun         bool
	)
	update := &cobra.Command{
		Use:   "update <db>",
		Short: "Set or remove the default compute of a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (defaultCompute == "") == !removeDefault {
				return fmt.Errorf("exactly one of --default-compute and --remove-default-compute is required")
			}
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			var res *api.UpdateDatabaseResponse
			if removeDefault && !dryRun {
				res, err = c.RemoveDefaultCompute(cmd.Context(), args[0])
			} else {
				res, err = c.UpdateDatabase(cmd.Context(), api.UpdateDatabaseRequest{
					Name:                 args[0],
					DefaultComputeName:   defaultCompute,
					RemoveDefaultCompute: removeDefault,
					DryRun:               dryRun,
				})
			}
			if err != nil {
				return err
			}
			compute := res.Database.DefaultComputeName
			if compute == "" {
				compute = "(none)"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s default compute %s\n", res.Database.Name, compute)
			return err
		},
	}
	update.Flags().StringVar(&defaultCompute, "default-compute", "", "compute used when requests name none")
	update.Flags().BoolVar(&removeDefault, "remove-default-compute", false, "clear the default compute")
	update.Flags().BoolVar(&dryRun, "dry-run", false, "validate without changing")

	cmd.AddCommand(list, update)
	return cmd
}
