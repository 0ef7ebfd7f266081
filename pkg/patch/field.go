package patch

import (
	"github.com/hansbonini/blazetools/pkg/common"
)

// FieldEntry rewrites one little-endian integer at base_offset + field_offset
type FieldEntry struct {
	Enabled          *bool  `yaml:"enabled"`
	Label            string `yaml:"label"`
	BaseOffset       Value  `yaml:"base_offset"`
	FieldOffset      Value  `yaml:"field_offset"`
	FieldSize        Value  `yaml:"field_size"`
	ExpectedOriginal *Value `yaml:"expected_original"`
	NewValue         Value  `yaml:"new_value"`
}

// Offset returns the absolute buffer offset of the field
func (e FieldEntry) Offset() int64 {
	return int64(e.BaseOffset) + int64(e.FieldOffset)
}

type fieldSection struct {
	Entries []FieldEntry `yaml:"entries"`
}

// FieldPatcher rewrites integer fields at absolute offsets
type FieldPatcher struct{}

// Apply patches every enabled entry of the section
func (FieldPatcher) Apply(buf []byte, section *Section, ctx *Context) (*Result, error) {
	var cfg fieldSection
	if err := section.Decode(&cfg); err != nil {
		return nil, err
	}

	total := &Result{}
	for i, entry := range cfg.Entries {
		if !isEnabled(entry.Enabled) {
			continue
		}
		result, err := PatchField(buf, entryLabel(section.Name, entry.Label, i), entry, ctx.Strict)
		total.Add(result)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// PatchField reads the current value, then writes new_value unless it is already there.
// A current value that is neither expected_original nor new_value is reported and,
// unless strict, overwritten anyway.
func PatchField(buf []byte, label string, entry FieldEntry, strict bool) (*Result, error) {
	offset := entry.Offset()
	size, err := entry.FieldSize.Index(label + ": field_size")
	if err != nil {
		return nil, err
	}
	if !common.ValidFieldSize(size) {
		return nil, common.NewOffsetError(common.ErrKindRangeExceeded, offset,
			"%s: field_size %d is not 1, 2 or 4", label, size)
	}
	current, err := common.ReadUintLE(buf, offset, size)
	if err != nil {
		return nil, common.NewOffsetError(common.ErrKindRangeExceeded, offset,
			"%s: %d-byte field outside a %d-byte buffer", label, size, len(buf))
	}

	result := &Result{}
	newValue := common.MaskToWidth(int64(entry.NewValue), size)
	if current == newValue {
		common.LogInfo(common.InfoAlreadyPatched, label, offset)
		result.Skipped++
		return result, nil
	}

	if entry.ExpectedOriginal != nil {
		expected := common.MaskToWidth(int64(*entry.ExpectedOriginal), size)
		if current != expected {
			if strict {
				return result, common.NewOffsetError(common.ErrKindMismatch, offset,
					"%s: expected original 0x%X, found 0x%X", label, expected, current)
			}
			common.LogWarn(common.WarnValueMismatch, label, offset, expected, current, newValue)
			result.Warned++
		}
	}

	if err := common.WriteUintLE(buf, offset, size, newValue); err != nil {
		return result, err
	}
	common.LogInfo(common.InfoPatchApplied, label, offset, current, newValue)
	result.Applied++
	return result, nil
}
