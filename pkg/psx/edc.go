package psx

import (
	"encoding/binary"
)

// Offsets inside a raw sector
const (
	edcOffsetMode1 = 0x810
	edcOffsetForm1 = 0x818
	edcOffsetForm2 = 0x92C
	eccPOffset     = 0x81C
	eccQOffset     = 0x8C8
	submodeForm2   = 0x20
)

var (
	eccFLUT [256]byte
	eccBLUT [256]byte
	edcLUT  [256]uint32
)

func init() {
	for i := 0; i < 256; i++ {
		j := i << 1
		if i&0x80 != 0 {
			j ^= 0x11D
		}
		eccFLUT[i] = byte(j)
		eccBLUT[i^j] = byte(i)

		edc := uint32(i)
		for k := 0; k < 8; k++ {
			if edc&1 != 0 {
				edc = (edc >> 1) ^ 0xD8018001
			} else {
				edc >>= 1
			}
		}
		edcLUT[i] = edc
	}
}

// computeEDC returns the CD-ROM EDC (CRC-32, polynomial 0xD8018001) of data
func computeEDC(data []byte) uint32 {
	var edc uint32
	for _, b := range data {
		edc = (edc >> 8) ^ edcLUT[(edc^uint32(b))&0xFF]
	}
	return edc
}

// computeECCBlock computes one Reed-Solomon product code pass (P or Q parity)
func computeECCBlock(src []byte, majorCount, minorCount, majorMult, minorInc int, dest []byte) {
	size := majorCount * minorCount
	for major := 0; major < majorCount; major++ {
		index := (major>>1)*majorMult + (major & 1)
		var a, b byte
		for minor := 0; minor < minorCount; minor++ {
			temp := src[index]
			index += minorInc
			if index >= size {
				index -= size
			}
			a ^= temp
			b ^= temp
			a = eccFLUT[a]
		}
		a = eccBLUT[eccFLUT[a]^b]
		dest[major] = a
		dest[major+majorCount] = a ^ b
	}
}

// generateECC writes P then Q parity; the address bytes are zeroed for Mode 2
func generateECC(sector []byte, zeroAddress bool) {
	var address [4]byte
	if zeroAddress {
		copy(address[:], sector[12:16])
		copy(sector[12:16], []byte{0, 0, 0, 0})
	}
	computeECCBlock(sector[0xC:], 86, 24, 2, 86, sector[eccPOffset:])
	computeECCBlock(sector[0xC:], 52, 43, 86, 88, sector[eccQOffset:])
	if zeroAddress {
		copy(sector[12:16], address[:])
	}
}

// RegenerateSector recomputes the EDC (and ECC where the mode has one) of a raw sector in place
func RegenerateSector(sector []byte) bool {
	if len(sector) != CD_SECTOR_SIZE {
		return false
	}

	switch sector[15] {
	case 1:
		binary.LittleEndian.PutUint32(sector[edcOffsetMode1:], computeEDC(sector[:edcOffsetMode1]))
		generateECC(sector, false)
	case 2:
		if sector[18]&submodeForm2 != 0 {
			binary.LittleEndian.PutUint32(sector[edcOffsetForm2:], computeEDC(sector[0x10:edcOffsetForm2]))
			return true
		}
		binary.LittleEndian.PutUint32(sector[edcOffsetForm1:], computeEDC(sector[0x10:edcOffsetForm1]))
		generateECC(sector, true)
	default:
		return false
	}
	return true
}

// RegenerateDirty recomputes EDC/ECC for every sector written since the image was loaded.
// Cooked images carry no trailers and are left alone.
func (img *Image) RegenerateDirty() (int, error) {
	if !img.Layout.IsRaw() {
		return 0, nil
	}
	count := 0
	for _, lba := range img.DirtySectors() {
		sector, err := img.Sector(lba)
		if err != nil {
			return count, err
		}
		if RegenerateSector(sector) {
			count++
		}
	}
	return count, nil
}
