package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/relsdk/client"
)

func newQueryCommand(app *cli) *cobra.Command {
	var (
		outputs []string
		persist []string
		file    string
		compute string
		format  string
		write   bool
	)
	cmd := &cobra.Command{
		Use:   "query <db> [source]",
		Short: "Evaluate a query and print its outputs",
		Long: `Evaluate a query against a database. The query text comes from the
second argument, --file, or stdin when neither is given. Queries are
read-only unless --write is set.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			source, err := querySource(cmd, args, file)
			if err != nil {
				return err
			}
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			opts := callOptions(compute, write)
			if len(persist) > 0 {
				opts = append(opts, client.WithPersist(persist...))
			}
			res, err := c.Query(cmd.Context(), args[0], source, outputs, opts...)
			if err != nil {
				return err
			}
			if err := writeResult(cmd, format, res); err != nil {
				return err
			}
			if res.Aborted {
				return errors.New("transaction aborted")
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&outputs, "output", []string{"output"}, "relations to return")
	flags.StringSliceVar(&persist, "persist", nil, "relations to persist")
	flags.StringVarP(&file, "file", "f", "", "read the query from a file")
	flags.StringVar(&compute, "on", "", "compute to run on")
	flags.BoolVar(&write, "write", false, "run as a write transaction")
	addFormatFlag(cmd, &format)
	return cmd
}

func querySource(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case len(args) == 2 && file != "":
		return "", fmt.Errorf("give the query as an argument or with --file, not both")
	case len(args) == 2:
		return args[1], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("empty query")
	}
	return string(data), nil
}

func newEDBCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edb",
		Short: "Inspect base relations",
	}
	var compute, format string
	list := &cobra.Command{
		Use:   "list <db> [relation]",
		Short: "List base relations and their column types",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			var rel string
			if len(args) == 2 {
				rel = args[1]
			}
			res, err := c.ListEDB(cmd.Context(), args[0], rel, callOptions(compute, false)...)
			if err != nil {
				return err
			}
			rels := actionResult(res).Rels
			if format != formatText {
				return writeStructured(cmd.OutOrStdout(), format, rels)
			}
			for _, key := range rels {
				fmt.Fprintf(cmd.OutOrStdout(), "%s(%s)\n", key.Name, strings.Join(append(append([]string(nil), key.Keys...), key.Values...), ", "))
			}
			return nil
		},
	}
	list.Flags().StringVar(&compute, "on", "", "compute to run on")
	addFormatFlag(list, &format)
	cmd.AddCommand(list)
	return cmd
}

func newCardinalityCommand(app *cli) *cobra.Command {
	var compute, format string
	cmd := &cobra.Command{
		Use:   "cardinality <db> [relation]",
		Short: "Count the tuples of a relation, or of every relation",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			var rel string
			if len(args) == 2 {
				rel = args[1]
			}
			counts, res, err := c.Database(args[0], compute).Cardinality(cmd.Context(), rel)
			if err != nil {
				return err
			}
			if format != formatText {
				return writeStructured(cmd.OutOrStdout(), format, counts)
			}
			for _, r := range counts {
				for _, row := range r.Rows() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\n", r.RelKey.Name, row[len(row)-1])
				}
			}
			writeProblems(cmd.ErrOrStderr(), res.Problems)
			return nil
		},
	}
	cmd.Flags().StringVar(&compute, "on", "", "compute to run on")
	addFormatFlag(cmd, &format)
	return cmd
}
