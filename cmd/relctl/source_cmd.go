package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"pkt.systems/relsdk/client"
	"pkt.systems/relsdk/internal/logutil"
)

func newSourceCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Install, delete, list and watch program sources",
	}
	cmd.AddCommand(
		newSourceInstallCommand(app),
		newSourceDeleteCommand(app),
		newSourceListCommand(app),
		newSourceWatchCommand(app),
	)
	return cmd
}

// sourceName derives the installed name of a source file: the base name
// without extension.
func sourceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func installFile(ctx context.Context, c *client.Client, db, path, name, compute string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read source %s: %w", path, err)
	}
	if name == "" {
		name = sourceName(path)
	}
	opts := append(callOptions(compute, false), client.WithSourcePath(filepath.ToSlash(path)))
	res, err := c.InstallSource(ctx, db, name, string(data), opts...)
	if err != nil {
		return 0, err
	}
	if errs := res.ErrorProblems(); len(errs) > 0 {
		return res.Version, fmt.Errorf("install %s: %s: %s", name, errs[0].ErrorCode, errs[0].Message)
	}
	return res.Version, nil
}

func newSourceInstallCommand(app *cli) *cobra.Command {
	var name, compute string
	cmd := &cobra.Command{
		Use:   "install <db> <file>...",
		Short: "Install source files (the name defaults to the file's base name)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name != "" && len(args) > 2 {
				return fmt.Errorf("--name needs exactly one file")
			}
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			for _, path := range args[1:] {
				version, err := installFile(cmd.Context(), c, args[0], path, name, compute)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "installed %s at version %d\n", path, version)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "source name (single file only)")
	cmd.Flags().StringVar(&compute, "on", "", "compute to run on")
	return cmd
}

func newSourceDeleteCommand(app *cli) *cobra.Command {
	var compute string
	cmd := &cobra.Command{
		Use:   "delete <db> <name>...",
		Short: "Delete installed sources",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			for _, name := range args[1:] {
				res, err := c.DeleteSource(cmd.Context(), args[0], name, callOptions(compute, false)...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s at version %d\n", name, res.Version)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&compute, "on", "", "compute to run on")
	return cmd
}

func newSourceListCommand(app *cli) *cobra.Command {
	var compute, format string
	var showText bool
	cmd := &cobra.Command{
		Use:   "list <db>",
		Short: "List installed sources",
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
			res, err := c.ListSources(cmd.Context(), args[0], callOptions(compute, false)...)
			if err != nil {
				return err
			}
			sources := actionResult(res).Sources
			if format != formatText {
				return writeStructured(cmd.OutOrStdout(), format, sources)
			}
			for _, src := range sources {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", src.Name, src.Path)
				if showText {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", src.Value)
				}
			}
			return nil
		},
	}
	addFormatFlag(cmd, &format)
	cmd.Flags().BoolVar(&showText, "text", false, "print source text")
	cmd.Flags().StringVar(&compute, "on", "", "compute to run on")
	return cmd
}

func newSourceWatchCommand(app *cli) *cobra.Command {
	var compute string
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <db> <file>...",
		Short: "Install source files and reinstall them whenever they change",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := app.client(cmd)
			if err != nil {
				return err
			}
			defer release()
			logger := logutil.Named(app.logger, "cli", "source", "watch")
			return watchSources(cmd, c, logger, args[0], args[1:], compute, debounce)
		},
	}
	cmd.Flags().StringVar(&compute, "on", "", "compute to run on")
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "quiet period before reinstalling a changed file")
	return cmd
}

// watchSources watches the parent directories of files, since editors often
// replace files instead of writing them in place.
func watchSources(cmd *cobra.Command, c *client.Client, logger pslog.Logger, db string, files []string, compute string, debounce time.Duration) error {
	ctx := cmd.Context()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	tracked := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		tracked[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	install := func(path string) {
		version, err := installFile(ctx, c, db, path, "", compute)
		if err != nil {
			logger.Warn("cli.source.watch.install_failed", "path", path, "error", err)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			return
		}
		logger.Info("cli.source.watch.installed", "path", path, "version", version)
		fmt.Fprintf(cmd.OutOrStdout(), "installed %s at version %d\n", path, version)
	}
	for path := range tracked {
		install(path)
	}

	pending := make(map[string]bool)
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !tracked[filepath.Clean(ev.Name)] || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending[filepath.Clean(ev.Name)] = true
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("cli.source.watch.error", "error", err)
		case <-timer.C:
			for path := range pending {
				install(path)
				delete(pending, path)
			}
		}
	}
}
