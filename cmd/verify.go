package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/hansbonini/blazetools/pkg"
	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/spf13/cobra"
)

// errCopiesDiverge is returned when a payload's copies are not byte-identical
var errCopiesDiverge = errors.New("payload copies diverge")

// verifyCmd checks that every payload copy on an image is identical.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every payload copy on an image is identical",
	Long: `Extract every configured LBA copy of every payload and compare them.

The image defaults to the config's output_image. The command exits with 1 when
any payload has a copy that differs from its first LBA.

Example:
  blazetools verify --config mod/pipeline.json
  blazetools verify --config mod/pipeline.json --image original.bin`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			return fmt.Errorf("error getting config flag: %w", err)
		}
		imagePath, err := cmd.Flags().GetString("image")
		if err != nil {
			return fmt.Errorf("error getting image flag: %w", err)
		}
		return verifyCopies(cmd.OutOrStdout(), configPath, imagePath)
	},
}

// verifyCopies prints one line per payload and fails when any copy diverges
func verifyCopies(out io.Writer, configPath, imagePath string) error {
	cfg, err := pkg.LoadConfig(appFs, configPath)
	if err != nil {
		return err
	}
	checks, err := pkg.NewCDProcessor(appFs).Verify(cfg, imagePath)
	if err != nil {
		return err
	}

	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed, color.Bold).SprintFunc()
	diverging := 0
	for _, check := range checks {
		status := ok("OK")
		if !check.Identical() {
			status = bad("DIVERGES")
			diverging++
		}
		fmt.Fprintf(out, "%-10s %-9s %d bytes at LBA %v", check.Payload, status, check.Size, check.LBAs)
		if len(check.Divergent) > 0 {
			fmt.Fprintf(out, " (differs at %v)", check.Divergent)
		}
		fmt.Fprintln(out)
	}
	if diverging > 0 {
		common.LogWarn("%d payload(s) with diverging copies", diverging)
		return fmt.Errorf("%w: %d payload(s)", errCopiesDiverge, diverging)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringP("config", "c", "", "Top-level pipeline config (JSON or YAML)")
	verifyCmd.Flags().StringP("image", "i", "", "Image to check (defaults to output_image)")
	_ = verifyCmd.MarkFlagRequired("config")
}
