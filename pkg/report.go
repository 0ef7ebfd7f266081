package pkg

import (
	"io"
	"path/filepath"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/hansbonini/blazetools/pkg/patch"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// StageReport is the outcome of one configured stage
type StageReport struct {
	Name    string       `yaml:"name"`
	Kind    string       `yaml:"kind"`
	Payload string       `yaml:"payload"`
	Config  string       `yaml:"config"`
	Enabled bool         `yaml:"enabled"`
	Result  patch.Result `yaml:"result"`
	Error   string       `yaml:"error,omitempty"`
}

// PayloadReport describes one extracted payload
type PayloadReport struct {
	Name            string   `yaml:"name"`
	File            string   `yaml:"file,omitempty"`
	LBAs            []uint32 `yaml:"lbas,flow"`
	Size            uint32   `yaml:"size"`
	ReservedSectors uint32   `yaml:"reserved_sectors"`
	Modified        bool     `yaml:"modified"`
	Warnings        int      `yaml:"warnings,omitempty"`
}

// Report collects what a pipeline run did
type Report struct {
	SourceImage string          `yaml:"source_image"`
	OutputImage string          `yaml:"output_image"`
	Layout      string          `yaml:"layout,omitempty"`
	Payloads    []PayloadReport `yaml:"payloads,omitempty"`
	Stages      []StageReport   `yaml:"stages"`
	Totals      patch.Result    `yaml:"totals"`
	EDCSectors  int             `yaml:"edc_sectors,omitempty"`
	Written     bool            `yaml:"written"`
	Error       string          `yaml:"error,omitempty"`

	payloadOrder []string
}

func newReport(cfg *Config) *Report {
	return &Report{
		SourceImage: cfg.SourceImage,
		OutputImage: cfg.OutputImage,
		Stages:      []StageReport{},
	}
}

// fail records err and hands it back for returning
func (r *Report) fail(err error) (*Report, error) {
	r.Error = err.Error()
	return r, err
}

func (r *Report) addStage(stage StageConfig) *StageReport {
	r.Stages = append(r.Stages, StageReport{
		Name:    stage.Name(),
		Kind:    stage.Kind,
		Payload: stage.Payload,
		Config:  stage.Config,
		Enabled: stage.IsEnabled(),
	})
	return &r.Stages[len(r.Stages)-1]
}

func (r *Report) addPayload(p *Payload) {
	r.payloadOrder = append(r.payloadOrder, p.Name)
	r.Payloads = append(r.Payloads, PayloadReport{
		Name:            p.Name,
		File:            p.File,
		LBAs:            p.LBAs,
		Size:            p.Size,
		ReservedSectors: p.ReservedSectors,
		Warnings:        p.Warnings,
	})
}

func (r *Report) markModified(name string) {
	for i := range r.Payloads {
		if r.Payloads[i].Name == name {
			r.Payloads[i].Modified = true
		}
	}
}

// Warnings is the number of tolerated problems: value mismatches plus payload disagreements
func (r *Report) Warnings() int {
	count := r.Totals.Warned
	for _, p := range r.Payloads {
		count += p.Warnings
	}
	return count
}

// ExportYAML writes the report as a YAML document
func (r *Report) ExportYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(r); err != nil {
		return common.FormatError(common.ErrFailedToWriteReport, err)
	}
	return encoder.Close()
}

// WriteFile exports the report to path on fs
func (r *Report) WriteFile(fs afero.Fs, path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return common.FormatError(common.ErrFailedToWriteReport, err)
	}
	f, err := fs.Create(path)
	if err != nil {
		return common.FormatError(common.ErrFailedToWriteReport, err)
	}
	defer f.Close()
	return r.ExportYAML(f)
}
