package patch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Section is one named top-level block of a stage config file:
//
//	{ "<section>": { "enabled": true, ..., "entries": [ ... ] } }
type Section struct {
	Name    string
	Enabled bool
	Source  string
	Node    *yaml.Node
}

// StageConfig is a decoded stage config file with its sections in file order
type StageConfig struct {
	Path     string
	Sections []Section
}

// LoadStageConfig reads a stage config (JSON or YAML) through fs
func LoadStageConfig(fs afero.Fs, path string) (*StageConfig, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToReadConfig, err)
	}
	sections, err := ParseSections(data, path)
	if err != nil {
		return nil, err
	}
	return &StageConfig{Path: path, Sections: sections}, nil
}

// Dir returns the directory relative paths inside the stage config resolve against
func (c *StageConfig) Dir() string {
	return filepath.Dir(c.Path)
}

// ParseSections splits a config document into its sections. Keys starting with "_"
// and non-mapping values (comments, metadata strings) are skipped.
func ParseSections(data []byte, source string) ([]Section, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, common.WrapError(common.ErrKindConfigInvalid, err, "%s", source)
	}
	if doc.Kind == 0 {
		return nil, nil
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, common.NewError(common.ErrKindConfigInvalid, "%s: top level must be an object of sections", source)
	}

	var sections []Section
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if strings.HasPrefix(key.Value, "_") || value.Kind != yaml.MappingNode {
			common.LogDebug("Ignoring top-level key %q in %s", key.Value, source)
			continue
		}

		enabled, err := enabledFlag(value)
		if err != nil {
			return nil, common.WrapError(common.ErrKindConfigInvalid, err, "%s: section %q", source, key.Value)
		}
		sections = append(sections, Section{Name: key.Value, Enabled: enabled, Source: source, Node: value})
		common.LogDebug(common.DebugSectionLoaded, key.Value, source)
	}
	return sections, nil
}

// enabledFlag reads the optional "enabled" key of a mapping; absent means true
func enabledFlag(node *yaml.Node) (bool, error) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "enabled" {
			continue
		}
		var enabled bool
		if err := node.Content[i+1].Decode(&enabled); err != nil {
			return false, err
		}
		return enabled, nil
	}
	return true, nil
}

// Decode unmarshals the section body into v
func (s *Section) Decode(v interface{}) error {
	if err := s.Node.Decode(v); err != nil {
		if _, typed := common.KindOf(err); typed {
			return err
		}
		return common.WrapError(common.ErrKindConfigInvalid, err, "%s: section %q", s.Source, s.Name)
	}
	return nil
}

// isEnabled treats a missing flag as enabled
func isEnabled(flag *bool) bool {
	return flag == nil || *flag
}

// entryLabel names an entry in log lines: its label, or section[index]
func entryLabel(section, label string, index int) string {
	if label != "" {
		return label
	}
	return fmt.Sprintf("%s[%d]", section, index)
}
