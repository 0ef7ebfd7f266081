package patch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	entityNameField   = 16 // null-padded ASCII name at the start of every record
	maxEntityNameSize = entityNameField - 1
)

// monsterStats is the default record layout: 40 halfwords right after the name field
var monsterStats = []string{
	"exp_reward", "stat2", "hp", "stat4_magic", "stat5_randomness",
	"stat6_collider_type", "stat7_death_fx_size", "stat8", "stat9_collider_size", "stat10_drop_rate",
	"stat11_creature_type", "stat12_armor_type", "stat13_elem_fire_ice", "stat14_elem_poison_air",
	"stat15_elem_light_night", "stat16_elem_divine_malefic", "stat17_dmg", "stat18_armor",
	"stat19", "stat20", "stat21", "stat22_magic_atk", "stat23", "stat24", "stat25", "stat26",
	"stat27", "stat28", "stat29", "stat30", "stat31", "stat32", "stat33", "stat34", "stat35",
	"stat36", "stat37", "stat38", "stat39", "stat40",
}

// DefaultStatsLayout returns the monster stat layout used when a section has no stats_layout
func DefaultStatsLayout() NamedValues {
	layout := make(NamedValues, len(monsterStats))
	for i, name := range monsterStats {
		layout[i] = NamedValue{Name: name, Value: Value(entityNameField + 2*i)}
	}
	return layout
}

// Entity is one named record and the stats to write into it
type Entity struct {
	Enabled *bool       `yaml:"enabled"`
	Name    string      `yaml:"name"`
	Stats   NamedValues `yaml:"stats"`
}

// EntityDatabase is an entity file: { "metadata": {...}, "entities": [...] }
type EntityDatabase struct {
	Metadata map[string]interface{} `yaml:"metadata"`
	Entities []Entity               `yaml:"entities"`
}

// EntityConfig is the body of a named_entity section
type EntityConfig struct {
	StatsLayout    NamedValues `yaml:"stats_layout"`
	ExcludedRanges []Span      `yaml:"excluded_ranges"`
	Databases      []string    `yaml:"databases"`
	Entries        []Entity    `yaml:"entries"`
}

// NamedEntityPatcher rewrites the stat block of every record carrying an entity's name
type NamedEntityPatcher struct{}

// Apply patches the entities of every database listed in the section, then its inline entries
func (NamedEntityPatcher) Apply(buf []byte, section *Section, ctx *Context) (*Result, error) {
	var cfg EntityConfig
	if err := section.Decode(&cfg); err != nil {
		return nil, err
	}

	fs := ctx.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	var entities []Entity
	for _, path := range cfg.Databases {
		if !filepath.IsAbs(path) && ctx.Dir != "" {
			path = filepath.Join(ctx.Dir, path)
		}
		db, err := LoadEntityDatabase(fs, path)
		if err != nil {
			return nil, err
		}
		entities = append(entities, db.Entities...)
	}
	entities = append(entities, cfg.Entries...)

	layout := cfg.StatsLayout
	if len(layout) == 0 {
		layout = DefaultStatsLayout()
	}
	return PatchEntities(buf, section.Name, entities, layout, cfg.ExcludedRanges)
}

// LoadEntityDatabase reads an entity database (JSON or YAML) through fs
func LoadEntityDatabase(fs afero.Fs, path string) (*EntityDatabase, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToReadConfig, err)
	}
	var db EntityDatabase
	if err := yaml.Unmarshal(data, &db); err != nil {
		if _, typed := common.KindOf(err); typed {
			return nil, err
		}
		return nil, common.WrapError(common.ErrKindConfigInvalid, err, "%s", path)
	}
	return &db, nil
}

// PatchEntities patches entities in database order; occurrences in increasing address order
func PatchEntities(buf []byte, label string, entities []Entity, layout NamedValues, excluded []Span) (*Result, error) {
	for _, stat := range layout {
		if stat.Value < entityNameField {
			return nil, common.NewError(common.ErrKindConfigInvalid,
				"%s: stat %q at +0x%X overlaps the %d-byte name field", label, stat.Name, int64(stat.Value), entityNameField)
		}
	}

	total := &Result{}
	for _, entity := range entities {
		if !isEnabled(entity.Enabled) {
			continue
		}
		result, err := patchEntity(buf, label, entity, layout, excluded)
		total.Add(result)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type statWrite struct {
	name   string
	offset int64
	value  uint16
}

func resolveStats(label string, entity Entity, layout NamedValues) ([]statWrite, error) {
	if len(entity.Name) == 0 || len(entity.Name) > maxEntityNameSize {
		return nil, common.NewError(common.ErrKindConfigInvalid,
			"%s: entity name %q must be 1 to %d characters", label, entity.Name, maxEntityNameSize)
	}
	writes := make([]statWrite, 0, len(entity.Stats))
	for _, stat := range entity.Stats {
		offset, ok := layout.Lookup(stat.Name)
		if !ok {
			return nil, common.NewError(common.ErrKindConfigInvalid, "%s: %s: unknown stat %q", label, entity.Name, stat.Name)
		}
		value, err := common.SafeInt64ToHalfword(int64(stat.Value))
		if err != nil {
			return nil, common.WrapError(common.ErrKindConfigInvalid, err, "%s: %s.%s", label, entity.Name, stat.Name)
		}
		writes = append(writes, statWrite{name: stat.Name, offset: int64(offset), value: value})
	}
	return writes, nil
}

func patchEntity(buf []byte, label string, entity Entity, layout NamedValues, excluded []Span) (*Result, error) {
	writes, err := resolveStats(label, entity, layout)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	hits := FindEntityRecords(buf, entity.Name, excluded)
	if len(hits) == 0 {
		common.LogWarn(common.WarnEntityNotFound, label, entity.Name)
		result.Warned++
		return result, nil
	}

	for _, hit := range hits {
		changed := false
		for _, w := range writes {
			at := hit + w.offset
			if at+2 > int64(len(buf)) {
				return result, common.NewOffsetError(common.ErrKindRangeExceeded, at,
					"%s: %s.%s lies past the end of a %d-byte buffer", label, entity.Name, w.name, len(buf))
			}
			if binary.LittleEndian.Uint16(buf[at:]) != w.value {
				binary.LittleEndian.PutUint16(buf[at:], w.value)
				changed = true
			}
		}
		if changed {
			result.Applied++
		} else {
			common.LogInfo(common.InfoAlreadyPatched, entity.Name, hit)
			result.Skipped++
		}
	}
	common.LogInfo(common.InfoEntityPatched, entity.Name, result.Applied)
	return result, nil
}

// FindEntityRecords returns, in increasing order, the offsets of records whose name field
// holds exactly name: not preceded by an identifier byte, NUL-terminated right after the
// name within 16 bytes and outside every excluded [start, end) range.
func FindEntityRecords(buf []byte, name string, excluded []Span) []int64 {
	var hits []int64
	for _, pos := range findAll(buf, []byte(name)) {
		if reason := rejectEntityHit(buf, pos, len(name), excluded); reason != "" {
			common.LogDebug(common.DebugEntityRejected, name, pos, reason)
			continue
		}
		hits = append(hits, pos)
	}
	return hits
}

func rejectEntityHit(buf []byte, pos int64, nameLen int, excluded []Span) string {
	if pos > 0 && isIdentifierByte(buf[pos-1]) {
		return fmt.Sprintf("preceded by %q", buf[pos-1])
	}
	if pos+entityNameField > int64(len(buf)) {
		return "name field runs past the buffer end"
	}
	nul := bytes.IndexByte(buf[pos:pos+entityNameField], 0)
	if nul < 0 {
		return "no NUL in the 16-byte name field"
	}
	if nul != nameLen {
		return "name continues past the match"
	}
	for _, r := range excluded {
		if r.Contains(pos) {
			return fmt.Sprintf("inside excluded range [0x%X, 0x%X)", r.Min, r.Max)
		}
	}
	return ""
}

func isIdentifierByte(b byte) bool {
	return b == '-' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
