// Package psx provides PlayStation-specific CD-ROM functionality.
// This file contains the in-memory disc image and the payload <-> sector mapping.
package psx

import (
	"sort"

	"github.com/hansbonini/blazetools/pkg/common"
)

// Image is a whole disc image held in memory. Only the user-data window of a sector
// is ever written; headers and trailers are left as loaded.
type Image struct {
	Data   []byte
	Layout Layout

	dirty map[uint32]struct{}
}

// NewImage wraps data, detecting its sector layout from the size
func NewImage(data []byte) (*Image, error) {
	layout, err := DetectLayout(int64(len(data)))
	if err != nil {
		return nil, err
	}
	return NewImageWithLayout(data, layout), nil
}

// NewImageWithLayout wraps data with an explicit layout
func NewImageWithLayout(data []byte, layout Layout) *Image {
	return &Image{Data: data, Layout: layout, dirty: make(map[uint32]struct{})}
}

// Size returns the image length in bytes
func (img *Image) Size() int64 {
	return int64(len(img.Data))
}

// Sectors returns the number of whole sectors in the image
func (img *Image) Sectors() uint32 {
	return uint32(img.Size() / int64(img.Layout.SectorSize))
}

// BinOffset returns the image offset of payload byte payloadOffset stored from baseLBA
func (img *Image) BinOffset(baseLBA uint32, payloadOffset int64) (int64, error) {
	if payloadOffset < 0 {
		return 0, common.NewOffsetError(common.ErrKindRangeExceeded, payloadOffset, "negative payload offset")
	}
	offset := img.Layout.BinOffset(baseLBA, payloadOffset)
	if offset >= img.Size() {
		return 0, common.NewOffsetError(common.ErrKindRangeExceeded, offset,
			"LBA %d + 0x%X lies past the end of a %d-byte image", baseLBA, payloadOffset, img.Size())
	}
	return offset, nil
}

// checkPayloadRange verifies that payload bytes [payloadOffset, payloadOffset+length) map inside the image
func (img *Image) checkPayloadRange(baseLBA uint32, payloadOffset int64, length int) error {
	if _, err := img.BinOffset(baseLBA, payloadOffset); err != nil {
		return err
	}
	if length <= 0 {
		return nil
	}
	_, err := img.BinOffset(baseLBA, payloadOffset+int64(length)-1)
	return err
}

// CopyPayloadRange concatenates length bytes of user data starting at payloadOffset
func (img *Image) CopyPayloadRange(baseLBA uint32, payloadOffset int64, length int) ([]byte, error) {
	if err := img.checkPayloadRange(baseLBA, payloadOffset, length); err != nil {
		return nil, err
	}

	out := make([]byte, 0, length)
	for remaining := length; remaining > 0; {
		inSector := int(payloadOffset % CD_DATA_SIZE)
		chunk := CD_DATA_SIZE - inSector
		if chunk > remaining {
			chunk = remaining
		}
		start := img.Layout.BinOffset(baseLBA, payloadOffset)
		out = append(out, img.Data[start:start+int64(chunk)]...)
		payloadOffset += int64(chunk)
		remaining -= chunk
	}
	return out, nil
}

// SplicePayloadRange writes data into the user-data windows starting at payloadOffset.
// The whole range is checked before the first byte is written.
func (img *Image) SplicePayloadRange(baseLBA uint32, payloadOffset int64, data []byte) error {
	if err := img.checkPayloadRange(baseLBA, payloadOffset, len(data)); err != nil {
		return err
	}

	for len(data) > 0 {
		inSector := int(payloadOffset % CD_DATA_SIZE)
		chunk := CD_DATA_SIZE - inSector
		if chunk > len(data) {
			chunk = len(data)
		}
		start := img.Layout.BinOffset(baseLBA, payloadOffset)
		copy(img.Data[start:start+int64(chunk)], data[:chunk])
		img.dirty[baseLBA+uint32(payloadOffset/CD_DATA_SIZE)] = struct{}{}
		payloadOffset += int64(chunk)
		data = data[chunk:]
	}
	return nil
}

// UserData returns a copy of the 2048 user bytes of one sector
func (img *Image) UserData(lba uint32) ([]byte, error) {
	return img.CopyPayloadRange(lba, 0, CD_DATA_SIZE)
}

// Sector returns the full sector slice (not a copy) for lba
func (img *Image) Sector(lba uint32) ([]byte, error) {
	start := int64(lba) * int64(img.Layout.SectorSize)
	end := start + int64(img.Layout.SectorSize)
	if end > img.Size() {
		return nil, common.NewOffsetError(common.ErrKindRangeExceeded, start,
			"sector %d lies past the end of a %d-byte image", lba, img.Size())
	}
	return img.Data[start:end], nil
}

// DirtySectors lists, in ascending order, every sector written through SplicePayloadRange
func (img *Image) DirtySectors() []uint32 {
	sectors := make([]uint32, 0, len(img.dirty))
	for lba := range img.dirty {
		sectors = append(sectors, lba)
	}
	sort.Slice(sectors, func(i, j int) bool { return sectors[i] < sectors[j] })
	return sectors
}
