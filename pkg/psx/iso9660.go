// Package psx provides PlayStation-specific CD-ROM reading functionality.
// Directory parsing follows mkpsxiso's dumpsxiso: records are walked sector by sector,
// "." and ".." are skipped and names lose their ";1" version suffix.
package psx

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/hansbonini/blazetools/pkg/common"
)

// DirEntry represents a file or directory found in the ISO9660 hierarchy
type DirEntry struct {
	ID         uint16 // 4-digit hex ID, in listing order
	Name       string // File name without version suffix
	Path       string // Full path within CD ("DATA/BLAZE.ALL")
	LBA        uint32 // Logical Block Address
	MSF        string // Minutes:Seconds:Frames format
	Size       uint32 // File size in bytes
	IsDir      bool   // Whether this is a directory
	ExtentSize uint32 // Size in sectors
}

// VolumeDescriptor holds the Primary Volume Descriptor fields the tools report
type VolumeDescriptor struct {
	SystemID         string
	VolumeID         string
	VolumeSpaceSize  uint32
	LogicalBlockSize uint16
	Root             DirEntry
}

// Directory is the parsed directory tree of a disc image
type Directory struct {
	Volume  VolumeDescriptor
	entries []DirEntry
}

// LoadDirectory validates the PVD at sector 16 and walks the whole directory tree
func LoadDirectory(img *Image) (*Directory, error) {
	volume, err := readVolumeDescriptor(img)
	if err != nil {
		return nil, err
	}

	d := &Directory{Volume: *volume}
	visited := map[uint32]bool{}
	if err := d.walk(img, volume.Root, "", visited); err != nil {
		return nil, err
	}
	return d, nil
}

// readVolumeDescriptor reads the ISO9660 descriptor from sector 16
func readVolumeDescriptor(img *Image) (*VolumeDescriptor, error) {
	data, err := img.UserData(ISO_PVD_LBA)
	if err != nil {
		return nil, common.WrapError(common.ErrKindImageMalformed, err, "no primary volume descriptor")
	}

	// Validate ISO signature
	if string(data[1:6]) != "CD001" {
		return nil, common.NewError(common.ErrKindImageMalformed,
			"invalid ISO9660 signature at sector %d: got % X", ISO_PVD_LBA, data[1:6])
	}

	rootRecord := data[ISO_ROOT_RECORD_OFFSET : ISO_ROOT_RECORD_OFFSET+ISO_ROOT_RECORD_SIZE]
	root := DirEntry{
		Name:  "/",
		LBA:   common.ExtractLBAFromDirRecord(rootRecord),
		Size:  common.ExtractSizeFromDirRecord(rootRecord),
		IsDir: true,
	}
	root.MSF = common.LBAToMSF(root.LBA)
	root.ExtentSize = common.GetSizeInSectors(root.Size)

	return &VolumeDescriptor{
		SystemID:         strings.TrimRight(string(data[8:40]), " \x00"),
		VolumeID:         strings.TrimRight(string(data[40:72]), " \x00"),
		VolumeSpaceSize:  binary.LittleEndian.Uint32(data[80:84]),
		LogicalBlockSize: binary.LittleEndian.Uint16(data[128:130]),
		Root:             root,
	}, nil
}

// walk appends the children of dir in directory order, descending into subdirectories first
func (d *Directory) walk(img *Image, dir DirEntry, prefix string, visited map[uint32]bool) error {
	if visited[dir.LBA] {
		common.LogDebug("Directory %q at LBA %d already visited, skipping", dir.Path, dir.LBA)
		return nil
	}
	visited[dir.LBA] = true

	data, err := img.CopyPayloadRange(dir.LBA, 0, int(dir.ExtentSize)*CD_DATA_SIZE)
	if err != nil {
		return common.WrapError(common.ErrKindImageMalformed, err,
			"directory %q extent (LBA %d, %d bytes) out of range", dir.Path, dir.LBA, dir.Size)
	}
	if int(dir.Size) < len(data) {
		data = data[:dir.Size]
	}

	for _, entry := range parseDirectoryRecords(data) {
		entry.Path = prefix + entry.Name
		entry.ID = uint16(len(d.entries))
		d.entries = append(d.entries, entry)
		common.LogDebug(common.DebugDirectoryEntry, entry.Path, entry.LBA, entry.Size, entry.IsDir)

		if entry.IsDir {
			if err := d.walk(img, entry, entry.Path+"/", visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseDirectoryRecords decodes the records of one directory extent. A zero length byte
// pads to the next sector; a truncated or short record ends the directory.
func parseDirectoryRecords(data []byte) []DirEntry {
	var entries []DirEntry
	pos := 0
	for pos < len(data) {
		entryLength := int(data[pos])
		if entryLength == 0 {
			pos = (pos/CD_DATA_SIZE + 1) * CD_DATA_SIZE
			continue
		}
		if entryLength < ISO_MIN_RECORD_SIZE || pos+entryLength > len(data) {
			break
		}

		record := data[pos : pos+entryLength]
		pos += entryLength

		filenameLength := int(record[32])
		if ISO_MIN_RECORD_SIZE+filenameLength > entryLength {
			break
		}
		rawName := string(record[33 : 33+filenameLength])
		if common.IsSpecialDirEntry(rawName) {
			continue
		}

		entry := DirEntry{
			Name:  common.CleanFileName(rawName),
			LBA:   common.ExtractLBAFromDirRecord(record),
			Size:  common.ExtractSizeFromDirRecord(record),
			IsDir: record[25]&0x02 != 0,
		}
		entry.MSF = common.LBAToMSF(entry.LBA)
		entry.ExtentSize = common.GetSizeInSectors(entry.Size)
		entries = append(entries, entry)
	}
	return entries
}

// List returns every entry, depth first in directory order
func (d *Directory) List() []DirEntry {
	out := make([]DirEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Files returns the non-directory entries of List
func (d *Directory) Files() []DirEntry {
	var files []DirEntry
	for _, entry := range d.entries {
		if !entry.IsDir {
			files = append(files, entry)
		}
	}
	return files
}

// Find resolves a file by name, case-insensitively. A name containing "/" is matched
// against the full path, otherwise against the base name; the first hit in List order wins.
func (d *Directory) Find(name string) (DirEntry, error) {
	name = common.CleanFileName(strings.TrimPrefix(name, "/"))
	byPath := strings.Contains(name, "/")

	for _, entry := range d.entries {
		if entry.IsDir {
			continue
		}
		candidate := entry.Name
		if byPath {
			candidate = entry.Path
		}
		if strings.EqualFold(candidate, name) {
			return entry, nil
		}
	}
	return DirEntry{}, common.NewError(common.ErrKindFileNotFound, "%q is not in the ISO9660 directory", name)
}

// String renders an entry the way list-files prints it
func (e DirEntry) String() string {
	kind := "FILE"
	if e.IsDir {
		kind = "DIR "
	}
	return fmt.Sprintf("%04X  %s  LBA %7d  %10d  %s  %s", e.ID, e.MSF, e.LBA, e.Size, kind, e.Path)
}
