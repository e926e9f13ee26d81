package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/cobra"

	"delegation-cache/internal/fingerprint"
)

type dirFingerprint struct {
	dir    string
	result fingerprint.Result
	err    error
}

func newFingerprintCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint DIR...",
		Short: "Print the directory fingerprint used in cache keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			fp := fingerprint.New(cfg.Fingerprint.MaxDepth, cfg.Fingerprint.MaxEntries, cfg.Fingerprint.Exclude, logger)

			results := fingerprintAll(cmd.Context(), fp, args)

			var errs []error
			out := cmd.OutOrStdout()
			for _, r := range results {
				if r.err != nil {
					errs = append(errs, r.err)
					continue
				}
				suffix := ""
				if r.result.Truncated {
					suffix = " (truncated)"
				}
				fmt.Fprintf(out, "%s  %d entries  %s%s\n", r.result.Fingerprint, r.result.Entries, r.dir, suffix)
			}
			return errors.Join(errs...)
		},
	}
}

// fingerprintAll walks the directories concurrently; results keep the
// order of dirs.
func fingerprintAll(ctx context.Context, fp *fingerprint.Fingerprinter, dirs []string) []dirFingerprint {
	mapper := iter.Mapper[string, dirFingerprint]{MaxGoroutines: runtime.GOMAXPROCS(0)}
	return mapper.Map(dirs, func(dir *string) dirFingerprint {
		res, err := fp.Fingerprint(ctx, *dir)
		return dirFingerprint{dir: *dir, result: res, err: err}
	})
}
