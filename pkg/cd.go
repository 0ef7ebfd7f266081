// Package pkg provides functionality for inspecting PlayStation CD images.
// This file contains the processor behind the list-files, extract and verify commands.
package pkg

import (
	"bytes"
	"path/filepath"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/hansbonini/blazetools/pkg/psx"
	"github.com/spf13/afero"
)

// CDProcessor handles read-only disc image operations
type CDProcessor struct {
	fs afero.Fs
}

// NewCDProcessor creates a new CD processor working on fs
func NewCDProcessor(fs afero.Fs) *CDProcessor {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &CDProcessor{fs: fs}
}

// Open reads a whole disc image into memory
func (p *CDProcessor) Open(path string) (*psx.Image, error) {
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToReadImage, err)
	}
	img, err := psx.NewImage(data)
	if err != nil {
		return nil, err
	}
	common.LogDebug(common.InfoImageLoaded, path, img.Size(), img.Sectors(), img.Layout)
	return img, nil
}

// List parses the ISO9660 directory of the image at path
func (p *CDProcessor) List(path string) (*psx.Directory, error) {
	img, err := p.Open(path)
	if err != nil {
		return nil, err
	}
	dir, err := psx.LoadDirectory(img)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToLoadDirectory, err)
	}
	for _, entry := range dir.List() {
		common.LogDebug(common.DebugDirectoryEntry, entry.Path, entry.LBA, entry.Size, entry.IsDir)
	}
	return dir, nil
}

// Extract copies the ISO file name out of the image into outPath
func (p *CDProcessor) Extract(imagePath, name, outPath string) (psx.DirEntry, error) {
	img, err := p.Open(imagePath)
	if err != nil {
		return psx.DirEntry{}, err
	}
	dir, err := psx.LoadDirectory(img)
	if err != nil {
		return psx.DirEntry{}, common.FormatError(common.ErrFailedToLoadDirectory, err)
	}
	entry, err := dir.Find(name)
	if err != nil {
		return psx.DirEntry{}, err
	}
	data, err := psx.Extract(img, entry.LBA, entry.Size)
	if err != nil {
		return entry, common.FormatError(common.ErrFailedToExtract, err)
	}

	if err := p.fs.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return entry, common.FormatError(common.ErrFailedToExtract, err)
	}
	if err := afero.WriteFile(p.fs, outPath, data, 0644); err != nil {
		return entry, common.FormatError(common.ErrFailedToExtract, err)
	}
	common.LogInfo(common.InfoPayloadExtracted, entry.Path, len(data), entry.LBA)
	return entry, nil
}

// CopyCheck is the replication status of one payload
type CopyCheck struct {
	Payload string
	LBAs    []uint32
	Size    uint32
	// Divergent lists the LBAs whose copy differs from the first one
	Divergent []uint32
}

// Identical reports whether every copy matched the first
func (c CopyCheck) Identical() bool {
	return len(c.Divergent) == 0
}

// Verify extracts every configured copy of every payload from imagePath and compares them.
// An empty imagePath checks the config's output image.
func (p *CDProcessor) Verify(cfg *Config, imagePath string) ([]CopyCheck, error) {
	if imagePath == "" {
		imagePath = cfg.OutputImage
	}
	img, err := p.Open(imagePath)
	if err != nil {
		return nil, err
	}

	dirs := &directoryLoader{img: img}
	var checks []CopyCheck
	for _, name := range cfg.payloadNames() {
		payload, err := resolvePayload(name, cfg.Payloads[name], dirs)
		if err != nil {
			return checks, err
		}
		check := CopyCheck{Payload: name, LBAs: payload.LBAs, Size: payload.Size}
		if len(payload.LBAs) == 0 {
			checks = append(checks, check)
			continue
		}

		first, err := psx.Extract(img, payload.LBAs[0], payload.Size)
		if err != nil {
			return checks, common.Annotate(err, "", name)
		}
		for _, lba := range payload.LBAs[1:] {
			data, err := psx.Extract(img, lba, payload.Size)
			if err != nil {
				return checks, common.Annotate(err, "", name)
			}
			if !bytes.Equal(first, data) {
				common.LogWarn(common.WarnCopiesDiverge, name, lba, payload.LBAs[0])
				check.Divergent = append(check.Divergent, lba)
			}
		}
		if check.Identical() {
			common.LogInfo(common.InfoCopiesIdentical, name, len(payload.LBAs))
		}
		checks = append(checks, check)
	}
	return checks, nil
}
