package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gonzalop/tunnelcheck/snapshot"
)

func (a *app) compareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <name-a> <name-b>",
		Short: "Compare two saved master copies",
		Long: `Load two master copies from the store and report whether they are
equal. Differences are listed one per line and the command exits with
status 2.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !argsOK(cmd, args, 2, 2) {
				return nil
			}

			start := time.Now()
			return a.finish(cmd.Name(), start, a.compareStored(cmd.OutOrStdout(), args[0], args[1]))
		},
	}
}

func (a *app) compareStored(out io.Writer, nameA, nameB string) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	first, err := st.Load(nameA)
	if err != nil {
		return err
	}
	second, err := st.Load(nameB)
	if err != nil {
		return err
	}
	return a.reportComparison(out, nameA, nameB, first, second)
}

// reportComparison prints the verdict and, on a mismatch, the differences.
// It returns ErrSnapshotsDiffer when the snapshots are not equal.
func (a *app) reportComparison(out io.Writer, nameA, nameB string, first, second *snapshot.Snapshot) error {
	equal := snapshot.Compare(first, second)
	a.metrics.RecordComparison(equal)

	if equal {
		fmt.Fprintf(out, "%s and %s are identical\n", nameA, nameB)
		return nil
	}

	changes := snapshot.Diff(first, second)
	fmt.Fprintf(out, "%s and %s differ (%d changes):\n", nameA, nameB, len(changes))
	for _, c := range changes {
		fmt.Fprintf(out, "  %s\n", c)
	}
	if !first.Valid() || !second.Valid() {
		fmt.Fprintln(out, "  (a snapshot without greeting or directories never compares equal)")
	}
	return fmt.Errorf("%w: %s and %s", ErrSnapshotsDiffer, nameA, nameB)
}
