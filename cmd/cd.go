// Package cmd provides command-line interface for CD image processing.
// This file contains commands for listing and extracting files from PlayStation CD images.
package cmd

import (
	"fmt"
	"io"

	"github.com/hansbonini/blazetools/pkg"
	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/spf13/cobra"
)

// listFilesCmd prints the ISO9660 directory tree of a disc image.
var listFilesCmd = &cobra.Command{
	Use:   "list-files",
	Short: "List the files of a CD image",
	Long: `List the ISO9660 directory tree of a CD image (RAW .bin or cooked .iso).

Each line shows:
  - ID (4-digit hex)
  - MSF (Minutes:Seconds:Frames)
  - LBA (Logical Block Address)
  - Size in bytes
  - FILE or DIR
  - Path within the CD structure

Example:
  blazetools list-files --image original.bin
  blazetools list-files -v --image original.bin
  blazetools list-files --files-only --image original.bin`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath, err := cmd.Flags().GetString("image")
		if err != nil {
			return fmt.Errorf("error getting image flag: %w", err)
		}
		filesOnly, err := cmd.Flags().GetBool("files-only")
		if err != nil {
			return fmt.Errorf("error getting files-only flag: %w", err)
		}
		return listFiles(cmd.OutOrStdout(), imagePath, filesOnly)
	},
}

// extractCmd copies one ISO9660 file out of a disc image.
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a file from a CD image",
	Long: `Extract a single file from the ISO9660 file system of a CD image.

The file is looked up case-insensitively by name ("BLAZE.ALL") or by full
path ("DATA/BLAZE.ALL"); the ";1" version suffix is optional.

Example:
  blazetools extract --image original.bin --file BLAZE.ALL --out work/BLAZE.ALL`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath, err := cmd.Flags().GetString("image")
		if err != nil {
			return fmt.Errorf("error getting image flag: %w", err)
		}
		name, err := cmd.Flags().GetString("file")
		if err != nil {
			return fmt.Errorf("error getting file flag: %w", err)
		}
		outPath, err := cmd.Flags().GetString("out")
		if err != nil {
			return fmt.Errorf("error getting out flag: %w", err)
		}
		if outPath == "" {
			outPath = common.CleanFileName(name)
		}

		entry, err := pkg.NewCDProcessor(appFs).Extract(imagePath, name, outPath)
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d bytes, LBA %d)\n", entry.Path, outPath, entry.Size, entry.LBA)
		return nil
	},
}

// listFiles prints the volume header and one line per directory entry, or per file
// entry when filesOnly is set
func listFiles(out io.Writer, imagePath string, filesOnly bool) error {
	dir, err := pkg.NewCDProcessor(appFs).List(imagePath)
	if err != nil {
		return fmt.Errorf("failed to process CD image file: %w", err)
	}

	fmt.Fprintf(out, "Volume: %s (%s), %d sectors\n", dir.Volume.VolumeID, dir.Volume.SystemID, dir.Volume.VolumeSpaceSize)
	fmt.Fprintf(out, "%-4s  %-8s  %-11s  %10s  %-4s  %s\n", "ID", "MSF", "LBA", "SIZE", "TYPE", "PATH")
	entries := dir.List()
	if filesOnly {
		entries = dir.Files()
	}
	for _, entry := range entries {
		fmt.Fprintln(out, entry.String())
	}
	return nil
}

func init() {
	rootCmd.AddCommand(listFilesCmd)
	rootCmd.AddCommand(extractCmd)

	listFilesCmd.Flags().StringP("image", "i", "", "CD image file (.bin or .iso)")
	listFilesCmd.Flags().Bool("files-only", false, "Omit directory entries")
	_ = listFilesCmd.MarkFlagRequired("image")

	extractCmd.Flags().StringP("image", "i", "", "CD image file (.bin or .iso)")
	extractCmd.Flags().StringP("file", "f", "", "ISO9660 file name or path")
	extractCmd.Flags().StringP("out", "o", "", "Output path (defaults to the file name)")
	_ = extractCmd.MarkFlagRequired("image")
	_ = extractCmd.MarkFlagRequired("file")
}
