// Package cmd provides command-line interface functionality for BlazeTools.
// BlazeTools applies declarative binary patches to PlayStation disc images and
// inspects their ISO9660 contents.
package cmd

import (
	"errors"
	"log"
	"os"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Exit codes
const (
	exitOK       = 0
	exitFatal    = 1
	exitWarnings = 2
)

// errWarnings marks a run that finished but tolerated mismatches
var errWarnings = errors.New("finished with warnings")

// appFs is the filesystem every command reads and writes through
var appFs afero.Fs = afero.NewOsFs()

var (
	verbose bool
	noColor bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "blazetools",
	Short: "Binary patch toolkit for PlayStation disc images",
	Long: `BlazeTools - extract, patch and re-inject payload files of a PlayStation
CD-ROM image (RAW 2352-byte or cooked 2048-byte sectors).

Currently supports:
  - Patch pipelines (signature, field, search, table and named_entity stages)
  - ISO9660 directory listing and file extraction
  - Replication checks for payloads stored at several LBAs

Examples:
  blazetools run --config mod/pipeline.json
  blazetools run --config mod/pipeline.json --report run.yaml --progress
  blazetools list-files --image original.bin
  blazetools extract --image original.bin --file BLAZE.ALL --out BLAZE.ALL
  blazetools verify --config mod/pipeline.json

Use 'blazetools [command] --help' for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		common.SetVerboseMode(verbose)
		if noColor {
			common.SetColorMode(false)
		}
	},
}

// Execute runs the root command and exits with 0 on success, 2 when only warnings
// were raised and 1 on any other error.
func Execute() {
	log.SetOutput(os.Stdout)
	log.SetFlags(0)

	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errWarnings) {
		common.LogError("%v", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errWarnings):
		return exitWarnings
	default:
		return exitFatal
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output with debug details")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable coloured output")
}
