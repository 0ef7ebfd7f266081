package common

import (
	"encoding/binary"
	"fmt"
)

// ValidFieldSize reports whether size is one of the supported field widths (1, 2 or 4 bytes)
func ValidFieldSize(size int) bool {
	return size == 1 || size == 2 || size == 4
}

// MaskToWidth truncates value to the low size bytes
func MaskToWidth(value int64, size int) uint32 {
	switch size {
	case 1:
		return uint32(value) & 0xFF
	case 2:
		return uint32(value) & 0xFFFF
	default:
		return uint32(value)
	}
}

// CheckRange verifies that size bytes starting at offset lie inside buf
func CheckRange(buf []byte, offset int64, size int) error {
	if offset < 0 || size < 0 || offset+int64(size) > int64(len(buf)) {
		return NewOffsetError(ErrKindRangeExceeded, offset,
			"%d-byte access outside buffer of %d bytes", size, len(buf))
	}
	return nil
}

// ReadUintLE reads a little-endian unsigned field of the given width
func ReadUintLE(buf []byte, offset int64, size int) (uint32, error) {
	if !ValidFieldSize(size) {
		return 0, NewOffsetError(ErrKindRangeExceeded, offset, "unsupported field size %d", size)
	}
	if err := CheckRange(buf, offset, size); err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint32(buf[offset]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(buf[offset:])), nil
	default:
		return binary.LittleEndian.Uint32(buf[offset:]), nil
	}
}

// WriteUintLE writes value, truncated to size bytes, in little-endian order
func WriteUintLE(buf []byte, offset int64, size int, value uint32) error {
	if !ValidFieldSize(size) {
		return NewOffsetError(ErrKindRangeExceeded, offset, "unsupported field size %d", size)
	}
	if err := CheckRange(buf, offset, size); err != nil {
		return err
	}
	switch size {
	case 1:
		buf[offset] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buf[offset:], uint16(value))
	default:
		binary.LittleEndian.PutUint32(buf[offset:], value)
	}
	return nil
}

// HexBytes formats a short byte slice as space-separated hex for log messages
func HexBytes(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	out := make([]byte, 0, len(data)*3)
	for i, b := range data {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, fmt.Sprintf("%02X", b)...)
	}
	return string(out)
}
