package patch

import (
	"bytes"

	"github.com/hansbonini/blazetools/pkg/common"
)

// SearchEntry replaces one byte inside every occurrence of a short pattern
type SearchEntry struct {
	Enabled          *bool  `yaml:"enabled"`
	Label            string `yaml:"label"`
	Pattern          Bytes  `yaml:"pattern"`
	Index            Value  `yaml:"index"`
	ExpectedOriginal *Value `yaml:"expected_original"`
	NewValue         Value  `yaml:"new_value"`
	RegionFilter     *Range `yaml:"region_filter"`
}

type searchSection struct {
	Entries []SearchEntry `yaml:"entries"`
}

// SearchPatcher rewrites a byte in every occurrence of a pattern
type SearchPatcher struct{}

// Apply patches every enabled entry of the section
func (SearchPatcher) Apply(buf []byte, section *Section, ctx *Context) (*Result, error) {
	var cfg searchSection
	if err := section.Decode(&cfg); err != nil {
		return nil, err
	}

	total := &Result{}
	for i, entry := range cfg.Entries {
		if !isEnabled(entry.Enabled) {
			continue
		}
		result, err := PatchSearch(buf, entryLabel(section.Name, entry.Label, i), entry, ctx.Strict)
		total.Add(result)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// PatchSearch collects every match first, then writes, so rewritten bytes never create
// or hide matches. Occurrences already carrying the new byte count as skipped.
func PatchSearch(buf []byte, label string, entry SearchEntry, strict bool) (*Result, error) {
	if len(entry.Pattern) == 0 {
		return nil, common.NewError(common.ErrKindConfigInvalid, "%s: empty pattern", label)
	}
	index, err := entry.Index.Index(label + ": index")
	if err != nil {
		return nil, err
	}
	if index >= len(entry.Pattern) {
		return nil, common.NewError(common.ErrKindConfigInvalid,
			"%s: index %d outside a %d-byte pattern", label, index, len(entry.Pattern))
	}
	newByte, err := entry.NewValue.Byte()
	if err != nil {
		return nil, common.WrapError(common.ErrKindConfigInvalid, err, "%s: new_value", label)
	}

	result := &Result{}
	original := entry.Pattern[index]
	if entry.ExpectedOriginal != nil && int64(*entry.ExpectedOriginal) != int64(original) {
		if strict {
			return nil, common.NewError(common.ErrKindMismatch,
				"%s: pattern byte %d is 0x%02X, expected_original 0x%02X", label, index, original, int64(*entry.ExpectedOriginal))
		}
		common.LogWarn(common.WarnSearchExpected, label, index, original, int64(*entry.ExpectedOriginal))
		result.Warned++
	}

	matches := findAll(buf, entry.Pattern)
	patched := []int64(nil)
	if original != newByte {
		patchedPattern := append([]byte(nil), entry.Pattern...)
		patchedPattern[index] = newByte
		patched = findAll(buf, patchedPattern)
	}
	if entry.RegionFilter != nil {
		matches = filterRegion(matches, *entry.RegionFilter)
		patched = filterRegion(patched, *entry.RegionFilter)
	}

	for _, pos := range matches {
		target := pos + int64(index)
		if buf[target] == newByte {
			result.Skipped++
			continue
		}
		buf[target] = newByte
		common.LogDebug(common.InfoPatchApplied, label, target, original, newByte)
		result.Applied++
	}
	result.Skipped += len(patched)

	if result.Applied == 0 && result.Skipped == 0 {
		common.LogWarn(common.WarnPatternNotFound, label, common.HexBytes(entry.Pattern))
		result.Warned++
		return result, nil
	}
	common.LogInfo(common.InfoSearchPatched, label, result.Applied, result.Skipped)
	return result, nil
}

// findAll returns the start offset of every occurrence of pattern in buf, overlapping ones included
func findAll(buf, pattern []byte) []int64 {
	if len(pattern) == 0 {
		return nil
	}
	var hits []int64
	for pos := 0; pos <= len(buf)-len(pattern); {
		i := bytes.Index(buf[pos:], pattern)
		if i < 0 {
			break
		}
		hits = append(hits, int64(pos+i))
		pos += i + 1
	}
	return hits
}
