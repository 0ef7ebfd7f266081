// Package common provides common utilities for CD-ROM operations.
// This file contains functions for MSF conversion and ISO9660 record helpers.
package common

import (
	"fmt"
	"strings"
)

// LBAToMSF converts LBA (Logical Block Address) to MSF (Minutes:Seconds:Frames) format
// LBA to MSF conversion: LBA + 150 (pregap)
func LBAToMSF(lba uint32) string {
	totalFrames := lba + 150

	minutes := totalFrames / (60 * 75)
	seconds := (totalFrames % (60 * 75)) / 75
	frames := totalFrames % 75

	return fmt.Sprintf("%02d:%02d:%02d", minutes, seconds, frames)
}

// GetSizeInSectors calculates the number of 2048-byte sectors needed for a given size in bytes
func GetSizeInSectors(sizeBytes uint32) uint32 {
	const sectorSize = 2048
	return uint32((uint64(sizeBytes) + sectorSize - 1) / sectorSize)
}

// CleanFileName removes the version suffix and the empty-extension dot from ISO9660 names
// ("BLAZE.ALL;1" -> "BLAZE.ALL", "README.;1" -> "README")
func CleanFileName(fileName string) string {
	if idx := strings.IndexByte(fileName, ';'); idx != -1 {
		fileName = fileName[:idx]
	}
	if len(fileName) > 1 && strings.HasSuffix(fileName, ".") {
		fileName = fileName[:len(fileName)-1]
	}
	return fileName
}

// IsSpecialDirEntry checks if a directory entry is "." or ".."
func IsSpecialDirEntry(fileName string) bool {
	return fileName == "\x00" || fileName == "\x01"
}

// ExtractLBAFromDirRecord extracts LBA from ISO9660 directory record
func ExtractLBAFromDirRecord(dirRecord []byte) uint32 {
	if len(dirRecord) < 6 {
		return 0
	}
	// LBA is at offset 2 (little-endian)
	return uint32(dirRecord[2]) |
		uint32(dirRecord[3])<<8 |
		uint32(dirRecord[4])<<16 |
		uint32(dirRecord[5])<<24
}

// ExtractSizeFromDirRecord extracts size from ISO9660 directory record
func ExtractSizeFromDirRecord(dirRecord []byte) uint32 {
	if len(dirRecord) < 14 {
		return 0
	}
	// Size is at offset 10 (little-endian)
	return uint32(dirRecord[10]) |
		uint32(dirRecord[11])<<8 |
		uint32(dirRecord[12])<<16 |
		uint32(dirRecord[13])<<24
}
