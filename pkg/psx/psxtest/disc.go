// Package psxtest builds small synthetic PlayStation disc images for tests.
package psxtest

import (
	"encoding/binary"
	"strings"
)

const (
	rawSectorSize = 2352
	dataSize      = 2048
	userOffset    = 24

	pvdLBA  = 16
	rootLBA = 18
)

// File is one file placed on the synthetic disc. Path may hold one directory level ("DATA/BLAZE.ALL").
type File struct {
	Path string
	LBA  uint32
	Data []byte
	// Size overrides the directory size when non-zero
	Size uint32
}

// Options describes a synthetic disc
type Options struct {
	Sectors  uint32 // total sectors in the image
	Cooked   bool   // 2048-byte sectors instead of raw 2352
	VolumeID string
	Files    []File
}

// SectorSize returns the image sector size for o
func (o Options) SectorSize() int {
	if o.Cooked {
		return dataSize
	}
	return rawSectorSize
}

// UserOffset returns the image offset of user byte 0 of sector lba
func (o Options) UserOffset(lba uint32) int {
	if o.Cooked {
		return int(lba) * dataSize
	}
	return int(lba)*rawSectorSize + userOffset
}

// TrailerByte is the filler stored at position i of the EDC/ECC trailer of sector lba
func TrailerByte(lba uint32, i int) byte {
	return byte(0xA5 ^ byte(lba) ^ byte(i*7))
}

type directory struct {
	name    string
	lba     uint32
	records [][]byte
}

// Build assembles the image: PVD at 16, terminator at 17, root directory at 18 and
// one sector per subdirectory from 19 on.
func Build(o Options) []byte {
	img := make([]byte, int(o.Sectors)*o.SectorSize())
	if !o.Cooked {
		for lba := uint32(0); lba < o.Sectors; lba++ {
			writeRawFraming(img[int(lba)*rawSectorSize:], lba)
		}
	}

	root := &directory{name: "", lba: rootLBA}
	var subdirs []*directory
	byName := map[string]*directory{}

	for _, f := range o.Files {
		parent := root
		name := f.Path
		if i := strings.IndexByte(f.Path, '/'); i >= 0 {
			dirName := f.Path[:i]
			name = f.Path[i+1:]
			parent = byName[dirName]
			if parent == nil {
				parent = &directory{name: dirName, lba: rootLBA + 1 + uint32(len(subdirs))}
				byName[dirName] = parent
				subdirs = append(subdirs, parent)
				root.records = append(root.records, DirRecord(dirName, parent.lba, dataSize, true))
			}
		}
		size := f.Size
		if size == 0 {
			size = uint32(len(f.Data))
		}
		parent.records = append(parent.records, DirRecord(name, f.LBA, size, false))
		o.write(img, f.LBA, f.Data)
	}

	o.write(img, pvdLBA, volumeDescriptor(o))
	o.write(img, pvdLBA+1, append([]byte{0xFF}, []byte("CD001\x01")...))
	o.write(img, root.lba, directoryExtent(root.lba, rootLBA, root.records))
	for _, d := range subdirs {
		o.write(img, d.lba, directoryExtent(d.lba, rootLBA, d.records))
	}
	return img
}

// write stores data in the user-data windows of consecutive sectors from lba
func (o Options) write(img []byte, lba uint32, data []byte) {
	for len(data) > 0 && lba < o.Sectors {
		n := copy(img[o.UserOffset(lba):o.UserOffset(lba)+dataSize], data)
		data = data[n:]
		lba++
	}
}

func writeRawFraming(sector []byte, lba uint32) {
	sector[0] = 0x00
	for i := 1; i <= 10; i++ {
		sector[i] = 0xFF
	}
	sector[11] = 0x00

	frames := lba + 150
	sector[12] = bcd(frames / 4500)
	sector[13] = bcd((frames / 75) % 60)
	sector[14] = bcd(frames % 75)
	sector[15] = 0x02

	copy(sector[16:24], []byte{0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x08, 0x00})
	for i := userOffset + dataSize; i < rawSectorSize; i++ {
		sector[i] = TrailerByte(lba, i)
	}
}

func bcd(v uint32) byte {
	return byte((v/10)<<4 | v%10)
}

func volumeDescriptor(o Options) []byte {
	pvd := make([]byte, dataSize)
	pvd[0] = 0x01
	copy(pvd[1:6], "CD001")
	pvd[6] = 0x01
	copy(pvd[8:40], pad("PLAYSTATION", 32))
	volumeID := o.VolumeID
	if volumeID == "" {
		volumeID = "PSXTEST"
	}
	copy(pvd[40:72], pad(volumeID, 32))
	binary.LittleEndian.PutUint32(pvd[80:], o.Sectors)
	binary.BigEndian.PutUint32(pvd[84:], o.Sectors)
	binary.LittleEndian.PutUint16(pvd[128:], dataSize)
	binary.BigEndian.PutUint16(pvd[130:], dataSize)
	copy(pvd[156:190], DirRecord("\x00", rootLBA, dataSize, true))
	return pvd
}

func directoryExtent(self, parent uint32, records [][]byte) []byte {
	extent := make([]byte, 0, dataSize)
	extent = append(extent, DirRecord("\x00", self, dataSize, true)...)
	extent = append(extent, DirRecord("\x01", parent, dataSize, true)...)
	for _, r := range records {
		extent = append(extent, r...)
	}
	return extent
}

// DirRecord encodes one ISO9660 directory record. File names get a ";1" suffix.
func DirRecord(name string, lba, size uint32, isDir bool) []byte {
	id := name
	if !isDir && name != "\x00" && name != "\x01" {
		id += ";1"
	}
	length := 33 + len(id)
	if length%2 == 1 {
		length++
	}

	record := make([]byte, length)
	record[0] = byte(length)
	binary.LittleEndian.PutUint32(record[2:], lba)
	binary.BigEndian.PutUint32(record[6:], lba)
	binary.LittleEndian.PutUint32(record[10:], size)
	binary.BigEndian.PutUint32(record[14:], size)
	copy(record[18:25], []byte{98, 10, 1, 12, 0, 0, 0})
	if isDir {
		record[25] = 0x02
	}
	binary.LittleEndian.PutUint16(record[28:], 1)
	binary.BigEndian.PutUint16(record[30:], 1)
	record[32] = byte(len(id))
	copy(record[33:], id)
	return record
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}
