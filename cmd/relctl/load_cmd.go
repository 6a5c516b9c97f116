package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/relsdk/api"
	"pkt.systems/relsdk/datasource"
	"pkt.systems/relsdk/internal/logutil"
)

func newLoadCommand(app *cli) *cobra.Command {
	var (
		from, data, path, contentType, compute string
		keys                                   []string
		maxBytes                               int64
	)
	cmd := &cobra.Command{
		Use:   "load <db> <relation>",
		Short: "Load JSON or CSV data into a relation",
		Long: `Load data into a relation. Exactly one of --from, --data and --path is
required. --from fetches the data locally and sends it inline; it accepts
file paths and file://, http(s)://, s3://host[:port]/bucket/key,
aws://bucket/key?region=R and azure://account/container/blob URLs.
--path names a location the service reads itself.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, v := range []string{from, data, path} {
				if v != "" {
					set++
				}
			}
			if set != 1 {
				return fmt.Errorf("exactly one of --from, --data and --path is required")
			}
			load := api.LoadData{ContentType: contentType, Data: data, Path: path, Key: keys}
			if from != "" {
				obj, err := datasource.Open(cmd.Context(), from, datasource.Options{
					MaxBytes:        maxBytes,
					ContentType:     contentType,
					Logger:          logutil.Named(app.logger, "cli", "load"),
					AzureAccountKey: os.Getenv("AZURE_STORAGE_KEY"),
					AzureSASToken:   os.Getenv("AZURE_STORAGE_SAS_TOKEN"),
					AWSEndpoint:     os.Getenv("RELCTL_AWS_ENDPOINT"),
				})
				if err != nil {
					return err
				}
				load = obj.LoadData(keys...)
				fmt.Fprintf(cmd.ErrOrStderr(), "read %s (%s) from %s\n", humanizeBytes(obj.Size()), obj.ContentType, obj.URL)
			}
			if strings.TrimSpace(load.ContentType) == "" {
				return fmt.Errorf("--content-type is required with --data and --path")
			}
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			res, err := c.LoadData(cmd.Context(), args[0], args[1], load, callOptions(compute, false)...)
			if err != nil {
				return err
			}
			writeProblems(cmd.ErrOrStderr(), res.Problems)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "loaded %s at version %d\n", args[1], res.Version)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&from, "from", "", "fetch data from a file or URL")
	flags.StringVar(&data, "data", "", "inline data")
	flags.StringVar(&path, "path", "", "location the service loads from")
	flags.StringVar(&contentType, "content-type", "", "application/json or text/csv (inferred for --from)")
	flags.StringSliceVar(&keys, "key", nil, "key columns")
	flags.Int64Var(&maxBytes, "max-bytes", datasource.DefaultMaxBytes, "size limit for --from")
	flags.StringVar(&compute, "on", "", "compute to run on")
	return cmd
}
