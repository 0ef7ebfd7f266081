// Package psx provides PlayStation-specific structures and functionality.
// This file contains CD-ROM related constants and the sector layouts of disc images.
package psx

import (
	"fmt"

	"github.com/hansbonini/blazetools/pkg/common"
)

// Sector size constants for PlayStation CD-ROM
const (
	CD_SECTOR_SIZE    = 2352 // Full CD sector size
	CD_DATA_SIZE      = 2048 // Data portion of Mode 1 / Mode 2 Form 1 sector
	CD_XA_DATA_SIZE   = 2336 // Data portion of Mode 2 Form 2 sector
	CD_SYNC_SIZE      = 12   // Sync pattern size
	CD_HEADER_SIZE    = 4    // Header size (3 address bytes + 1 mode byte)
	CD_SUBHEADER_SIZE = 8    // XA subheader (written twice)
	CD_USER_OFFSET    = CD_SYNC_SIZE + CD_HEADER_SIZE + CD_SUBHEADER_SIZE
	CD_TRAILER_OFFSET = CD_USER_OFFSET + CD_DATA_SIZE // EDC/ECC start in a Form 1 sector
	CD_MAX_SECTORS    = 100 * 60 * 75                 // Addressable sectors up to MSF 99:59:74
)

// ISO9660 locations
const (
	ISO_PVD_LBA            = 16  // Primary Volume Descriptor sector
	ISO_ROOT_RECORD_OFFSET = 156 // Root directory record inside the PVD
	ISO_ROOT_RECORD_SIZE   = 34
	ISO_MIN_RECORD_SIZE    = 33
)

// Layout describes where the 2048 bytes of user data sit inside each sector of an image file.
type Layout struct {
	Name       string
	SectorSize int
	UserOffset int
}

var (
	// RawLayout is a full 2352-byte sector dump (.bin) with user data after the 24-byte header
	RawLayout = Layout{Name: "raw", SectorSize: CD_SECTOR_SIZE, UserOffset: CD_USER_OFFSET}
	// CookedLayout is a plain 2048-byte sector image (.iso)
	CookedLayout = Layout{Name: "iso", SectorSize: CD_DATA_SIZE, UserOffset: 0}
)

// IsRaw reports whether sectors carry headers and EDC/ECC trailers
func (l Layout) IsRaw() bool {
	return l.SectorSize == CD_SECTOR_SIZE
}

func (l Layout) String() string {
	return fmt.Sprintf("%s, %d bytes/sector", l.Name, l.SectorSize)
}

// BinOffset maps a payload byte offset relative to baseLBA to an image byte offset
func (l Layout) BinOffset(baseLBA uint32, payloadOffset int64) int64 {
	sector := int64(baseLBA) + payloadOffset/CD_DATA_SIZE
	return sector*int64(l.SectorSize) + int64(l.UserOffset) + payloadOffset%CD_DATA_SIZE
}

// DetectLayout picks the sector layout from the image size. RAW wins when both sizes divide.
func DetectLayout(size int64) (Layout, error) {
	switch {
	case size <= 0:
		return Layout{}, common.NewError(common.ErrKindImageMalformed, "image is empty")
	case size%CD_SECTOR_SIZE == 0:
		return RawLayout, nil
	case size%CD_DATA_SIZE == 0:
		return CookedLayout, nil
	default:
		return Layout{}, common.NewError(common.ErrKindImageMalformed,
			"image size %d is not a multiple of %d or %d bytes", size, CD_SECTOR_SIZE, CD_DATA_SIZE)
	}
}
