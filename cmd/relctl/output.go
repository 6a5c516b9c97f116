package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/relsdk/api"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func addFormatFlag(cmd *cobra.Command, format *string) {
	cmd.Flags().StringVarP(format, "format", "o", formatText, "output format (text|json|yaml)")
}

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
}

// writeStructured renders v as JSON or YAML. YAML keys follow the JSON field
// names.
func writeStructured(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if format == formatJSON {
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func writeRelations(w io.Writer, rels []api.Relation) {
	for _, rel := range rels {
		fmt.Fprintf(w, "%s(%s)\n", rel.RelKey.Name, strings.Join(append(append([]string(nil), rel.RelKey.Keys...), rel.RelKey.Values...), ", "))
		for _, row := range rel.Rows() {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = fmt.Sprint(v)
			}
			fmt.Fprintf(w, "  %s\n", strings.Join(cells, "\t"))
		}
	}
}

func writeProblems(w io.Writer, problems []api.Problem) {
	for _, p := range problems {
		kind := "warning"
		if p.IsError || p.IsException {
			kind = "error"
		}
		if p.Path != "" {
			fmt.Fprintf(w, "%s: %s: %s (%s)\n", kind, p.ErrorCode, p.Message, p.Path)
			continue
		}
		fmt.Fprintf(w, "%s: %s: %s\n", kind, p.ErrorCode, p.Message)
	}
}

// writeResult prints res in format. Text mode writes relations to the
// command's stdout and problems to its stderr.
func writeResult(cmd *cobra.Command, format string, res *api.TransactionResult) error {
	if res == nil {
		return nil
	}
	if format != formatText {
		return writeStructured(cmd.OutOrStdout(), format, res)
	}
	printed := false
	for _, a := range res.Actions {
		writeRelations(cmd.OutOrStdout(), a.Result.Output)
		writeRelations(cmd.OutOrStdout(), a.Result.Result)
		printed = printed || len(a.Result.Output) > 0 || len(a.Result.Result) > 0
	}
	// the transaction-level output repeats what the actions returned
	if !printed {
		writeRelations(cmd.OutOrStdout(), res.Output)
	}
	writeProblems(cmd.ErrOrStderr(), res.Problems)
	return nil
}

func actionResult(res *api.TransactionResult) api.ActionResult {
	if res == nil || len(res.Actions) == 0 {
		return api.ActionResult{}
	}
	return res.Actions[0].Result
}
