package common

import (
	"fmt"
	"math"
)

// SafeInt64ToUint32 safely converts int64 to uint32 with bounds checking
func SafeInt64ToUint32(value int64) (uint32, error) {
	if value < 0 {
		return 0, fmt.Errorf("value %d is negative, cannot convert to uint32", value)
	}
	if value > math.MaxUint32 {
		return 0, fmt.Errorf("value %d out of range for uint32 (0-%d)", value, uint64(math.MaxUint32))
	}
	return uint32(value), nil
}

// SafeInt64ToUint8 safely converts int64 to uint8 with bounds checking
func SafeInt64ToUint8(value int64) (uint8, error) {
	if value < 0 || value > math.MaxUint8 {
		return 0, fmt.Errorf("value %d out of range for uint8 (0-%d)", value, math.MaxUint8)
	}
	return uint8(value), nil
}

// SafeInt64ToInt safely converts a non-negative int64 to int
func SafeInt64ToInt(value int64) (int, error) {
	if value < 0 {
		return 0, fmt.Errorf("value %d is negative", value)
	}
	if value > math.MaxInt {
		return 0, fmt.Errorf("value %d out of range for int", value)
	}
	return int(value), nil
}

// SafeInt64ToHalfword converts a stat value to its uint16 encoding. Negative values
// down to -32768 are stored as int16 two's complement.
func SafeInt64ToHalfword(value int64) (uint16, error) {
	if value < math.MinInt16 || value > math.MaxUint16 {
		return 0, fmt.Errorf("value %d out of range for a 16-bit field (%d-%d)", value, math.MinInt16, math.MaxUint16)
	}
	return uint16(value), nil
}
