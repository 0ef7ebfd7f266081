package patch

import (
	"bytes"

	"github.com/hansbonini/blazetools/pkg/common"
	"gopkg.in/yaml.v3"
)

// recordNameLength is the width of the ASCII name prefix checked against an entry's name
const recordNameLength = 16

// FieldSpec locates a field inside a record: [offset, size] or {offset, size}
type FieldSpec struct {
	Offset int
	Size   int
}

// UnmarshalYAML decodes either representation
func (f *FieldSpec) UnmarshalYAML(node *yaml.Node) error {
	var parts []Value
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&parts); err != nil {
			return err
		}
	case yaml.MappingNode:
		var m struct {
			Offset Value `yaml:"offset"`
			Size   Value `yaml:"size"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		parts = []Value{m.Offset, m.Size}
	}
	if len(parts) != 2 {
		return common.NewError(common.ErrKindConfigInvalid, "line %d: field layout needs [offset, size]", node.Line)
	}
	f.Offset, f.Size = int(parts[0]), int(parts[1])
	return nil
}

// TableEntry overrides one record
type TableEntry struct {
	Enabled             *bool       `yaml:"enabled"`
	Label               string      `yaml:"label"`
	RecordIndex         Value       `yaml:"record_index"`
	Name                string      `yaml:"name"`
	CopyFromRecordIndex *Value      `yaml:"copy_from_record_index"`
	RawBytes            Bytes       `yaml:"raw_bytes"`
	Fields              NamedValues `yaml:"fields"`
}

// TableConfig is the geometry of a fixed-stride table and its overrides
type TableConfig struct {
	BaseOffsets  []Value              `yaml:"base_offsets"`
	RecordStride Value                `yaml:"record_stride"`
	RecordCount  Value                `yaml:"record_count"`
	FieldLayout  map[string]FieldSpec `yaml:"field_layout"`
	Entries      []TableEntry         `yaml:"entries"`

	// set by validate
	stride int
	count  int
}

// TablePatcher rewrites records of a table replicated at several base offsets
type TablePatcher struct{}

// Apply validates the table geometry, then applies every enabled override in order
func (TablePatcher) Apply(buf []byte, section *Section, ctx *Context) (*Result, error) {
	var cfg TableConfig
	if err := section.Decode(&cfg); err != nil {
		return nil, err
	}
	return PatchTable(buf, section.Name, cfg, ctx.Strict)
}

// PatchTable applies cfg to buf. Each override is computed from the record at the first
// base offset and written identically at every base offset.
func PatchTable(buf []byte, label string, cfg TableConfig, strict bool) (*Result, error) {
	if err := cfg.validate(label, len(buf)); err != nil {
		return nil, err
	}

	total := &Result{}
	for i, entry := range cfg.Entries {
		if !isEnabled(entry.Enabled) {
			continue
		}
		result, err := cfg.patchRecord(buf, entryLabel(label, entry.Label, i), entry, strict)
		total.Add(result)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (cfg *TableConfig) validate(label string, bufLen int) error {
	if cfg.RecordStride <= 0 || cfg.RecordCount <= 0 {
		return common.NewError(common.ErrKindConfigInvalid,
			"%s: record_stride %d and record_count %d must be positive", label, int64(cfg.RecordStride), int64(cfg.RecordCount))
	}
	if int64(cfg.RecordStride) > int64(bufLen) || int64(cfg.RecordCount) > int64(bufLen) {
		return common.NewError(common.ErrKindRangeExceeded,
			"%s: table of %d x %d bytes runs past a %d-byte buffer", label, int64(cfg.RecordCount), int64(cfg.RecordStride), bufLen)
	}
	var err error
	if cfg.stride, err = cfg.RecordStride.Index(label + ": record_stride"); err != nil {
		return err
	}
	if cfg.count, err = cfg.RecordCount.Index(label + ": record_count"); err != nil {
		return err
	}
	if len(cfg.BaseOffsets) == 0 {
		return common.NewError(common.ErrKindConfigInvalid, "%s: no base_offsets", label)
	}
	span := int64(cfg.stride) * int64(cfg.count)
	for _, base := range cfg.BaseOffsets {
		if base < 0 || int64(base)+span > int64(bufLen) {
			return common.NewOffsetError(common.ErrKindRangeExceeded, int64(base),
				"%s: table of %d x %d bytes runs past a %d-byte buffer", label, cfg.count, cfg.stride, bufLen)
		}
	}
	for name, field := range cfg.FieldLayout {
		if !common.ValidFieldSize(field.Size) {
			return common.NewError(common.ErrKindRangeExceeded, "%s: field %q has size %d, not 1, 2 or 4", label, name, field.Size)
		}
		if field.Offset < 0 || field.Offset+field.Size > cfg.stride {
			return common.NewError(common.ErrKindConfigInvalid,
				"%s: field %q at +0x%X does not fit a %d-byte record", label, name, field.Offset, cfg.stride)
		}
	}
	return nil
}

func (cfg *TableConfig) checkIndex(label, what string, index Value) error {
	if index < 0 || int64(index) >= int64(cfg.count) {
		return common.NewError(common.ErrKindConfigInvalid,
			"%s: %s %d outside a %d-record table", label, what, int64(index), cfg.count)
	}
	return nil
}

func (cfg *TableConfig) recordOffset(base, index Value) int64 {
	return int64(base) + int64(index)*int64(cfg.stride)
}

// buildRecord computes the override's bytes: clone, then verbatim bytes, then field edits
func (cfg *TableConfig) buildRecord(buf []byte, label string, entry TableEntry) ([]byte, error) {
	stride := int64(cfg.stride)
	first := cfg.recordOffset(cfg.BaseOffsets[0], entry.RecordIndex)
	record := append([]byte(nil), buf[first:first+stride]...)

	if entry.CopyFromRecordIndex != nil {
		if err := cfg.checkIndex(label, "copy_from_record_index", *entry.CopyFromRecordIndex); err != nil {
			return nil, err
		}
		src := cfg.recordOffset(cfg.BaseOffsets[0], *entry.CopyFromRecordIndex)
		copy(record, buf[src:src+stride])
	}
	if entry.RawBytes != nil {
		if len(entry.RawBytes) != cfg.stride {
			return nil, common.NewError(common.ErrKindConfigInvalid,
				"%s: raw_bytes has %d bytes, record stride is %d", label, len(entry.RawBytes), cfg.stride)
		}
		copy(record, entry.RawBytes)
	}
	for _, field := range entry.Fields {
		fieldSpec, ok := cfg.FieldLayout[field.Name]
		if !ok {
			return nil, common.NewError(common.ErrKindConfigInvalid, "%s: unknown field %q", label, field.Name)
		}
		value := common.MaskToWidth(int64(field.Value), fieldSpec.Size)
		if err := common.WriteUintLE(record, int64(fieldSpec.Offset), fieldSpec.Size, value); err != nil {
			return nil, err
		}
	}
	return record, nil
}

func (cfg *TableConfig) patchRecord(buf []byte, label string, entry TableEntry, strict bool) (*Result, error) {
	if err := cfg.checkIndex(label, "record_index", entry.RecordIndex); err != nil {
		return nil, err
	}

	result := &Result{}
	first := cfg.recordOffset(cfg.BaseOffsets[0], entry.RecordIndex)
	if entry.Name != "" {
		found := recordName(buf[first : first+int64(cfg.stride)])
		if found != entry.Name {
			if strict {
				return nil, common.NewOffsetError(common.ErrKindMismatch, first,
					"%s: record %d is named %q, expected %q", label, int64(entry.RecordIndex), found, entry.Name)
			}
			common.LogWarn(common.WarnRecordName, label, int64(entry.RecordIndex), first, entry.Name, found)
			result.Warned++
		}
	}

	record, err := cfg.buildRecord(buf, label, entry)
	if err != nil {
		return result, err
	}

	for _, base := range cfg.BaseOffsets {
		at := cfg.recordOffset(base, entry.RecordIndex)
		target := buf[at : at+int64(cfg.stride)]
		if bytes.Equal(target, record) {
			common.LogInfo(common.InfoAlreadyPatched, label, at)
			result.Skipped++
			continue
		}
		copy(target, record)
		common.LogInfo(common.InfoRecordPatched, label, int64(entry.RecordIndex), at)
		result.Applied++
	}
	return result, nil
}

// recordName reads the NUL-terminated ASCII name at the start of a record
func recordName(record []byte) string {
	if len(record) > recordNameLength {
		record = record[:recordNameLength]
	}
	if i := bytes.IndexByte(record, 0); i >= 0 {
		record = record[:i]
	}
	return string(record)
}
