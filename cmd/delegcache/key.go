package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"delegation-cache/internal/cache"
	"delegation-cache/internal/fingerprint"
)

func newKeyCmd(opts *rootOptions) *cobra.Command {
	var (
		params  cache.TaskParams
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "key",
		Short: "Print the cache key a delegation request would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			fp := fingerprint.New(cfg.Fingerprint.MaxDepth, cfg.Fingerprint.MaxEntries, cfg.Fingerprint.Exclude, logger)

			// Keys are built from absolute paths, so "." and its absolute
			// form name the same entry.
			dir, err := filepath.Abs(params.WorkingDirectory)
			if err != nil {
				return fmt.Errorf("resolve --dir: %w", err)
			}
			params.WorkingDirectory = dir

			res, err := fp.Fingerprint(cmd.Context(), params.WorkingDirectory)
			if err != nil {
				return fmt.Errorf("no key: %w", err)
			}
			key := cache.BuildKey(params, res.Fingerprint)

			out := cmd.OutOrStdout()
			if !verbose {
				fmt.Fprintln(out, key)
				return nil
			}
			fmt.Fprintf(out, "key:          %s\n", key)
			fmt.Fprintf(out, "fingerprint:  %s\n", res.Fingerprint)
			fmt.Fprintf(out, "entries:      %d\n", res.Entries)
			fmt.Fprintf(out, "truncated:    %t\n", res.Truncated)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&params.Task, "task", "", "task text")
	f.StringVar(&params.WorkingDirectory, "dir", ".", "working directory")
	f.StringVar(&params.ExecutionMode, "execution-mode", "", "approval policy (default "+cache.DefaultExecutionMode+")")
	f.StringVar(&params.SandboxMode, "sandbox", "", "sandbox mode (default "+cache.DefaultSandboxMode+")")
	f.StringVar(&params.OutputFormat, "output-format", "", "output format (default "+cache.DefaultOutputFormat+")")
	f.StringVar(&params.TaskComplexity, "complexity", "", "task complexity (default "+cache.DefaultTaskComplexity+")")
	f.BoolVar(&params.AllowWrite, "allow-write", false, "allow the backend to write files")
	f.StringVar(&params.StartDelimiter, "start-delimiter", "", "response start delimiter")
	f.StringVar(&params.EndDelimiter, "end-delimiter", "", "response end delimiter")
	f.BoolVar(&params.StrictDelimiters, "strict-delimiters", false, "require delimiters in the response")
	f.StringToStringVar(&params.Options, "option", nil, "extra backend option as name=value (repeatable)")
	f.BoolVarP(&verbose, "verbose", "v", false, "also print the fingerprint")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}
