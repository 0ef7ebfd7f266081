// Package pkg provides the patch pipeline and the disc helpers behind the blazetools commands.
// This file contains the orchestrator that extracts payloads, runs the configured stages
// and injects the result into a new image.
package pkg

import (
	"path/filepath"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/hansbonini/blazetools/pkg/patch"
	"github.com/hansbonini/blazetools/pkg/psx"
	"github.com/spf13/afero"
)

// PipelineProcessor runs a pipeline configuration against a disc image
type PipelineProcessor struct {
	fs afero.Fs

	// Progress, when set, is called for every sector written during injection
	Progress psx.ProgressFunc
	// FixEDC forces EDC/ECC regeneration regardless of the config
	FixEDC bool
}

// NewPipelineProcessor creates a processor reading and writing through fs
func NewPipelineProcessor(fs afero.Fs) *PipelineProcessor {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &PipelineProcessor{fs: fs}
}

// RunFile loads, validates and runs the config at path
func (p *PipelineProcessor) RunFile(path string) (*Report, error) {
	cfg, err := LoadConfig(p.fs, path)
	if err != nil {
		return nil, err
	}
	return p.Run(cfg)
}

// Run executes every enabled stage in order. A fatal error aborts the run before the
// output image is written; the report is returned either way.
func (p *PipelineProcessor) Run(cfg *Config) (*Report, error) {
	report := newReport(cfg)
	if err := cfg.Validate(); err != nil {
		return report.fail(err)
	}

	data, err := afero.ReadFile(p.fs, cfg.SourceImage)
	if err != nil {
		return report.fail(common.FormatError(common.ErrFailedToReadImage, err))
	}

	stages := cfg.enabledStages()
	if len(stages) == 0 {
		// Nothing to patch: the image is copied as-is, whatever its layout
		for i, stage := range cfg.Stages {
			report.addStage(stage)
			common.LogInfo(common.InfoStageSkipped, i+1, len(cfg.Stages), stage.Kind)
		}
		return p.writeOutput(report, cfg.OutputImage, data)
	}

	img, err := psx.NewImage(data)
	if err != nil {
		return report.fail(err)
	}
	report.Layout = img.Layout.String()
	common.LogInfo(common.InfoImageLoaded, cfg.SourceImage, img.Size(), img.Sectors(), img.Layout)

	payloads, err := p.loadPayloads(cfg, stages, img, report)
	if err != nil {
		return report.fail(err)
	}

	for i, stage := range cfg.Stages {
		stageReport := report.addStage(stage)
		if !stage.IsEnabled() {
			common.LogInfo(common.InfoStageSkipped, i+1, len(cfg.Stages), stage.Kind)
			continue
		}
		common.LogInfo(common.InfoStageStart, i+1, len(cfg.Stages), stage.Kind, stage.Name(), stage.Payload)

		result, err := p.runStage(stage, payloads[stage.Payload])
		if result != nil {
			stageReport.Result = *result
			report.Totals.Add(result)
		}
		if err != nil {
			stageReport.Error = err.Error()
			common.LogError("%v", err)
			return report.fail(err)
		}
		if result.Noop() && result.Skipped > 0 {
			common.LogInfo(common.InfoStageNoop, stage.Name())
		}
		common.LogInfo(common.InfoStageSummary, stage.Name(),
			result.Applied, result.Skipped, result.Warned, result.Failed)
	}

	for _, payload := range report.payloadOrder {
		pl := payloads[payload]
		if !pl.Modified() {
			common.LogInfo(common.InfoPayloadUnchanged, pl.Name)
			continue
		}
		if err := pl.store(img, p.Progress); err != nil {
			return report.fail(common.FormatError(common.ErrFailedToInject, err))
		}
		report.markModified(pl.Name)
	}

	if cfg.RecomputeEDC || p.FixEDC {
		count, err := img.RegenerateDirty()
		if err != nil {
			return report.fail(err)
		}
		report.EDCSectors = count
		common.LogInfo(common.InfoEDCRegenerated, count)
	}

	return p.writeOutput(report, cfg.OutputImage, img.Data)
}

// loadPayloads resolves and extracts every payload an enabled stage targets
func (p *PipelineProcessor) loadPayloads(cfg *Config, stages []StageConfig, img *psx.Image, report *Report) (map[string]*Payload, error) {
	dirs := &directoryLoader{img: img}
	payloads := make(map[string]*Payload)
	var ordered []*Payload
	for _, stage := range stages {
		if _, ok := payloads[stage.Payload]; ok {
			continue
		}
		payload, err := resolvePayload(stage.Payload, cfg.Payloads[stage.Payload], dirs)
		if err != nil {
			return nil, err
		}
		payloads[stage.Payload] = payload
		ordered = append(ordered, payload)
	}
	if err := checkOverlap(ordered); err != nil {
		return nil, err
	}

	for _, payload := range ordered {
		diverging, err := payload.load(img)
		if err != nil {
			return nil, common.FormatError(common.ErrFailedToExtract, err)
		}
		payload.Warnings += diverging
		report.addPayload(payload)
	}
	return payloads, nil
}

// runStage loads a stage config and applies it to the payload buffer
func (p *PipelineProcessor) runStage(stage StageConfig, payload *Payload) (*patch.Result, error) {
	ctx := &patch.Context{
		Stage:   stage.Name(),
		Payload: stage.Payload,
		Strict:  stage.Strict,
		Fs:      p.fs,
	}
	stageConfig, err := patch.LoadStageConfig(p.fs, stage.Config)
	if err != nil {
		return &patch.Result{Failed: 1}, common.Annotate(err, ctx.Stage, ctx.Payload)
	}
	return patch.ApplyStage(payload.Buffer(), stage.Kind, stageConfig, ctx)
}

// writeOutput stores the final image and marks the report as written
func (p *PipelineProcessor) writeOutput(report *Report, path string, data []byte) (*Report, error) {
	if err := p.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return report.fail(common.FormatError(common.ErrFailedToWriteImage, err))
	}
	if err := afero.WriteFile(p.fs, path, data, 0644); err != nil {
		return report.fail(common.FormatError(common.ErrFailedToWriteImage, err))
	}
	report.Written = true
	common.LogInfo(common.InfoOutputWritten, path, len(data))
	return report, nil
}
