// Command filed is a runnable demonstration agent: it wires
// filesource, backupfsm, restorefsm, cryptoengine, metadata, and
// heartbeat into two subcommands exercising the whole backup/restore
// pipeline end-to-end over a local file used as the RecordLink,
// mirroring the teacher's root-command-plus-subcommands cobra layout
// (inferred from cmd/cmd_test.go and cmd/version/version_test.go,
// whose pack copies kept only test files, not cmd/cmd.go's source).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// root is the top-level cobra.Command every subcommand attaches to,
// the same Root-variable shape the teacher's cmd.Root gives every
// subcommand package to call AddCommand against.
var root = &cobra.Command{
	Use:   "filed",
	Short: "filed is a network file-backup agent core",
	Long: `filed drives the per-file backup and restore pipelines described in
this repository's specification: it classifies filesystem entries,
frames their attributes and data into a stream-record sequence, and
can replay that sequence back onto disk.`,
	SilenceUsage: true,
}

func main() {
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
