package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadUintLE(t *testing.T) {
	buf := []byte{0x78, 0x56, 0x34, 0x12, 0xFF}

	tests := []struct {
		name   string
		offset int64
		size   int
		want   uint32
	}{
		{"byte", 0, 1, 0x78},
		{"halfword", 0, 2, 0x5678},
		{"word", 0, 4, 0x12345678},
		{"unaligned halfword", 3, 2, 0xFF12},
		{"last byte", 4, 1, 0xFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadUintLE(buf, tt.offset, tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadUintLE_Errors(t *testing.T) {
	buf := make([]byte, 8)

	tests := []struct {
		name   string
		offset int64
		size   int
	}{
		{"past end", 6, 4},
		{"negative offset", -1, 1},
		{"unsupported size 3", 0, 3},
		{"unsupported size 8", 0, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadUintLE(buf, tt.offset, tt.size)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRangeExceeded), "got %v", err)
		})
	}
}

func TestWriteUintLE_RoundTrip(t *testing.T) {
	for _, size := range []int{1, 2, 4} {
		buf := make([]byte, 8)
		value := MaskToWidth(0x1234ABCD, size)

		require.NoError(t, WriteUintLE(buf, 2, size, value))
		got, err := ReadUintLE(buf, 2, size)
		require.NoError(t, err)
		assert.Equal(t, value, got, "size %d", size)

		// bytes around the field stay untouched
		assert.Equal(t, byte(0), buf[1])
		assert.Equal(t, byte(0), buf[2+size])
	}
}

func TestWriteUintLE_Truncates(t *testing.T) {
	buf := make([]byte, 4)
	require.NoError(t, WriteUintLE(buf, 0, 1, 0x1FF))
	assert.Equal(t, []byte{0xFF, 0, 0, 0}, buf)

	require.NoError(t, WriteUintLE(buf, 0, 2, 0xABCDE))
	assert.Equal(t, []byte{0xDE, 0xBC, 0, 0}, buf)
}

func TestMaskToWidth(t *testing.T) {
	assert.Equal(t, uint32(0x5A), MaskToWidth(0x15A, 1))
	assert.Equal(t, uint32(0xFFFF), MaskToWidth(-1, 2))
	assert.Equal(t, uint32(0xFFFFFFFF), MaskToWidth(-1, 4))
	assert.Equal(t, uint32(0x12345678), MaskToWidth(0x12345678, 4))
}

func TestHexBytes(t *testing.T) {
	assert.Equal(t, "0A 00 05 24", HexBytes([]byte{0x0A, 0x00, 0x05, 0x24}))
	assert.Equal(t, "", HexBytes(nil))
}
