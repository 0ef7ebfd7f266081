package cmd

import (
	"fmt"
	"io"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/hansbonini/blazetools/pkg"
	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/spf13/cobra"
)

// runCmd executes a patch pipeline end to end.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply a patch pipeline to a disc image",
	Long: `Apply a patch pipeline to a disc image.

The pipeline config (JSON or YAML) names the source and output images, the payloads
to extract (by ISO9660 file name and/or LBAs) and the ordered list of stages:

  {
    "source_image": "original.bin",
    "output_image": "patched.bin",
    "payloads": {
      "archive": {"file": "BLAZE.ALL", "lbas": [163167, 185765]},
      "exe":     {"lbas": [295081], "reserved_sectors": 412}
    },
    "stages": [
      {"kind": "signature", "payload": "exe", "config": "stages/loot_timer.json"},
      {"kind": "named_entity", "payload": "archive", "config": "stages/monsters.json"}
    ]
  }

Every modified payload is injected back at all of its LBAs. The source image is never
modified and no output is written when a stage fails.

Exit codes:
  0  success
  1  fatal error (nothing written)
  2  finished with warnings (mismatching values were tolerated)

Example:
  blazetools run --config mod/pipeline.json
  blazetools run --config mod/pipeline.json --report run.yaml --fix-edc`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			return fmt.Errorf("error getting config flag: %w", err)
		}
		reportPath, err := cmd.Flags().GetString("report")
		if err != nil {
			return fmt.Errorf("error getting report flag: %w", err)
		}
		showProgress, err := cmd.Flags().GetBool("progress")
		if err != nil {
			return fmt.Errorf("error getting progress flag: %w", err)
		}
		fixEDC, err := cmd.Flags().GetBool("fix-edc")
		if err != nil {
			return fmt.Errorf("error getting fix-edc flag: %w", err)
		}

		return runPipeline(cmd.OutOrStdout(), runOptions{
			config:   configPath,
			report:   reportPath,
			progress: showProgress,
			fixEDC:   fixEDC,
		})
	},
}

type runOptions struct {
	config   string
	report   string
	progress bool
	fixEDC   bool
}

// runPipeline runs the pipeline, prints the per-stage summary and writes the report.
// It returns errWarnings when the run succeeded with tolerated mismatches.
func runPipeline(out io.Writer, opts runOptions) error {
	processor := pkg.NewPipelineProcessor(appFs)
	processor.FixEDC = opts.fixEDC

	var bar injectProgress
	if opts.progress {
		processor.Progress = bar.update
		defer bar.finish()
	}

	report, err := processor.RunFile(opts.config)
	if report != nil {
		printSummary(out, report)
		if opts.report != "" {
			if werr := report.WriteFile(appFs, opts.report); werr != nil {
				common.LogError("%v", werr)
			}
		}
	}
	if err != nil {
		return err
	}

	if n := report.Warnings(); n > 0 {
		common.LogWarn(common.WarnStageWarnings, n)
		return errWarnings
	}
	return nil
}

// injectProgress shows one progress bar per injected payload
type injectProgress struct {
	bar *pb.ProgressBar
}

func (p *injectProgress) update(done, total int) {
	if p.bar == nil {
		p.bar = pb.StartNew(total)
	}
	p.bar.Increment()
	if done == total {
		p.finish()
	}
}

func (p *injectProgress) finish() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}

// printSummary writes the per-stage counters as a table
func printSummary(out io.Writer, report *pkg.Report) {
	if len(report.Stages) == 0 {
		return
	}
	header := color.New(color.Bold).SprintFunc()
	applied := color.New(color.FgGreen).SprintFunc()
	warned := color.New(color.FgYellow).SprintFunc()
	failed := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(out, "\n%s\n", header(fmt.Sprintf("%-3s %-24s %-13s %-10s %8s %8s %8s %8s",
		"#", "STAGE", "KIND", "PAYLOAD", "APPLIED", "SKIPPED", "WARNED", "FAILED")))
	for i, s := range report.Stages {
		name := s.Name
		if !s.Enabled {
			name += " (off)"
		}
		fmt.Fprintf(out, "%-3d %-24s %-13s %-10s %s %8d %s %s\n", i+1, name, s.Kind, s.Payload,
			applied(fmt.Sprintf("%8d", s.Result.Applied)), s.Result.Skipped,
			warned(fmt.Sprintf("%8d", s.Result.Warned)), failed(fmt.Sprintf("%8d", s.Result.Failed)))
	}
	t := report.Totals
	fmt.Fprintf(out, "%-3s %s %-13s %-10s %s %8d %s %s\n", "", header(fmt.Sprintf("%-24s", "TOTAL")), "", "",
		applied(fmt.Sprintf("%8d", t.Applied)), t.Skipped,
		warned(fmt.Sprintf("%8d", t.Warned)), failed(fmt.Sprintf("%8d", t.Failed)))
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "Top-level pipeline config (JSON or YAML)")
	runCmd.Flags().String("report", "", "Write a YAML run report to this path")
	runCmd.Flags().Bool("progress", false, "Show a progress bar while payloads are injected")
	runCmd.Flags().Bool("fix-edc", false, "Regenerate EDC/ECC of every sector written")
	_ = runCmd.MarkFlagRequired("config")
}
