package patch

import (
	"encoding/binary"

	"github.com/hansbonini/blazetools/pkg/common"
)

// SignatureEntry locates a 32-bit word by the instruction words around it
type SignatureEntry struct {
	Enabled      *bool   `yaml:"enabled"`
	Label        string  `yaml:"label"`
	Signature    []Value `yaml:"signature"`
	PatchIndex   Value   `yaml:"patch_index"`
	Verify       Value   `yaml:"verify"`
	Replacement  Value   `yaml:"replacement"`
	RegionFilter *Range  `yaml:"region_filter"`
}

type signatureSection struct {
	Entries []SignatureEntry `yaml:"entries"`
}

// SignaturePatcher rewrites code words found by signature
type SignaturePatcher struct{}

// Apply patches every enabled entry of the section
func (SignaturePatcher) Apply(buf []byte, section *Section, ctx *Context) (*Result, error) {
	var cfg signatureSection
	if err := section.Decode(&cfg); err != nil {
		return nil, err
	}

	total := &Result{}
	for i, entry := range cfg.Entries {
		if !isEnabled(entry.Enabled) {
			continue
		}
		result, err := PatchSignature(buf, entryLabel(section.Name, entry.Label, i), entry, ctx.Strict)
		total.Add(result)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// PatchSignature applies one signature entry to buf
func PatchSignature(buf []byte, label string, entry SignatureEntry, strict bool) (*Result, error) {
	if len(entry.Signature) == 0 {
		return nil, common.NewError(common.ErrKindConfigInvalid, "%s: empty signature", label)
	}
	index, err := entry.PatchIndex.Index(label + ": patch_index")
	if err != nil {
		return nil, err
	}
	if index >= len(entry.Signature) {
		return nil, common.NewError(common.ErrKindConfigInvalid,
			"%s: patch_index %d outside a %d-word signature", label, index, len(entry.Signature))
	}
	words := make([]uint32, len(entry.Signature))
	for i, v := range entry.Signature {
		w, err := v.Word()
		if err != nil {
			return nil, common.WrapError(common.ErrKindConfigInvalid, err, "%s: signature word %d", label, i)
		}
		words[i] = w
	}
	verify, err := entry.Verify.Word()
	if err != nil {
		return nil, common.WrapError(common.ErrKindConfigInvalid, err, "%s: verify", label)
	}
	replacement, err := entry.Replacement.Word()
	if err != nil {
		return nil, common.WrapError(common.ErrKindConfigInvalid, err, "%s: replacement", label)
	}

	result := &Result{}
	pattern := encodeWords(words)
	matches := findAll(buf, pattern)
	common.LogDebug(common.DebugSignatureMatches, label, len(matches), matches)

	if len(matches) == 0 {
		words[index] = replacement
		patched := findAll(buf, encodeWords(words))
		if entry.RegionFilter != nil && len(patched) > 1 {
			patched = filterRegion(patched, *entry.RegionFilter)
		}
		if len(patched) == 0 {
			return nil, common.NewError(common.ErrKindSignatureNotFound,
				"%s: signature %s (and its patched form) not found", label, common.HexBytes(pattern))
		}
		for _, pos := range patched {
			common.LogInfo(common.InfoAlreadyPatched, label, pos+int64(index)*4)
		}
		result.Skipped += len(patched)
		return result, nil
	}

	if len(matches) > 1 && entry.RegionFilter != nil {
		region := *entry.RegionFilter
		matches = filterRegion(matches, region)
		common.LogDebug(common.DebugRegionFiltered, label, len(matches), region.Min, region.Max)
		if len(matches) == 0 {
			return nil, common.NewError(common.ErrKindAmbiguous,
				"%s: signature %s has no match inside region [0x%X, 0x%X]", label, common.HexBytes(pattern), region.Min, region.Max)
		}
	}

	for _, pos := range matches {
		target := pos + int64(index)*4
		current := binary.LittleEndian.Uint32(buf[target:])
		switch current {
		case replacement:
			common.LogInfo(common.InfoAlreadyPatched, label, target)
			result.Skipped++
		case verify:
			binary.LittleEndian.PutUint32(buf[target:], replacement)
			common.LogInfo(common.InfoPatchApplied, label, target, current, replacement)
			result.Applied++
		default:
			if strict {
				return result, common.NewOffsetError(common.ErrKindMismatch, target,
					"%s: found 0x%08X, expected 0x%08X or 0x%08X", label, current, verify, replacement)
			}
			common.LogWarn(common.WarnSignatureSkipped, label, target, current, verify)
			result.Warned++
		}
	}
	return result, nil
}

// encodeWords serialises words little-endian
func encodeWords(words []uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

// filterRegion keeps the offsets inside region
func filterRegion(offsets []int64, region Range) []int64 {
	var kept []int64
	for _, off := range offsets {
		if region.Contains(off) {
			kept = append(kept, off)
		}
	}
	return kept
}
