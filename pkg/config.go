package pkg

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/hansbonini/blazetools/pkg/patch"
	"github.com/hansbonini/blazetools/pkg/psx"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// PayloadConfig locates a logical payload on disc, by ISO file name and/or explicit LBAs
type PayloadConfig struct {
	File            string        `yaml:"file"`
	LBAs            []patch.Value `yaml:"lbas"`
	ReservedSectors *patch.Value  `yaml:"reserved_sectors"`
}

// StageConfig is one entry of the top-level "stages" list
type StageConfig struct {
	Kind    string `yaml:"kind"`
	Payload string `yaml:"payload"`
	Config  string `yaml:"config"`
	Label   string `yaml:"label"`
	Strict  bool   `yaml:"strict"`
	Enabled *bool  `yaml:"enabled"`
}

// Name is the stage label, or its config file name without extension
func (s StageConfig) Name() string {
	if s.Label != "" {
		return s.Label
	}
	base := filepath.Base(s.Config)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsEnabled treats a missing flag as enabled
func (s StageConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Config is the top-level pipeline configuration
type Config struct {
	SourceImage  string                   `yaml:"source_image"`
	OutputImage  string                   `yaml:"output_image"`
	Payloads     map[string]PayloadConfig `yaml:"payloads"`
	Stages       []StageConfig            `yaml:"stages"`
	RecomputeEDC bool                     `yaml:"recompute_edc"`

	// Path is the file the config was loaded from
	Path string `yaml:"-"`
}

// LoadConfig reads a top-level config (JSON or YAML) and resolves its relative paths
// against the config file's directory
func LoadConfig(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToReadConfig, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, common.WrapError(common.ErrKindConfigInvalid, err, "%s", path)
	}
	cfg.Path = path
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// ParseConfig decodes a top-level config document without touching the filesystem
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, common.FormatError(common.ErrFailedToParseConfig, err)
	}
	return &cfg, nil
}

func (c *Config) resolvePaths(dir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.SourceImage = resolve(c.SourceImage)
	c.OutputImage = resolve(c.OutputImage)
	for i := range c.Stages {
		c.Stages[i].Config = resolve(c.Stages[i].Config)
	}
}

// Validate reports every problem in the config at once
func (c *Config) Validate() error {
	var errs error
	invalid := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, common.NewError(common.ErrKindConfigInvalid, format, args...))
	}

	if c.SourceImage == "" {
		invalid("source_image is required")
	}
	if c.OutputImage == "" {
		invalid("output_image is required")
	}
	if c.SourceImage != "" && filepath.Clean(c.SourceImage) == filepath.Clean(c.OutputImage) {
		invalid("output_image must differ from source_image (%s)", c.SourceImage)
	}

	for _, name := range c.payloadNames() {
		p := c.Payloads[name]
		if p.File == "" && len(p.LBAs) == 0 {
			invalid("payload %q: needs a file or at least one LBA", name)
		}
		if p.File == "" && p.ReservedSectors == nil {
			invalid("payload %q: reserved_sectors is required without a file", name)
		}
		if p.ReservedSectors != nil && (*p.ReservedSectors <= 0 || *p.ReservedSectors > psx.CD_MAX_SECTORS) {
			invalid("payload %q: reserved_sectors %d out of range (1-%d)", name, int64(*p.ReservedSectors), psx.CD_MAX_SECTORS)
		}
		for _, lba := range p.LBAs {
			if lba < 0 || lba > 0xFFFFFFFF {
				invalid("payload %q: LBA %d out of range", name, int64(lba))
			}
		}
	}

	for i, s := range c.Stages {
		if _, err := patch.Lookup(s.Kind); err != nil {
			errs = multierr.Append(errs, common.WrapError(common.ErrKindConfigInvalid, err, "stage %d (%s)", i+1, s.Name()))
		}
		if _, ok := c.Payloads[s.Payload]; !ok {
			invalid("stage %d (%s): unknown payload %q", i+1, s.Name(), s.Payload)
		}
		if s.Config == "" {
			invalid("stage %d: config is required", i+1)
		}
	}
	return errs
}

// payloadNames returns the payload names in a stable order
func (c *Config) payloadNames() []string {
	names := make([]string, 0, len(c.Payloads))
	for name := range c.Payloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// enabledStages returns the stages that will run, in order
func (c *Config) enabledStages() []StageConfig {
	var stages []StageConfig
	for _, s := range c.Stages {
		if s.IsEnabled() {
			stages = append(stages, s)
		}
	}
	return stages
}
