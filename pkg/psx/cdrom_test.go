package psx

import (
	"errors"
	"testing"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLayout(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		want    Layout
		wantErr bool
	}{
		{"raw", 100 * CD_SECTOR_SIZE, RawLayout, false},
		{"cooked", 100 * CD_DATA_SIZE, CookedLayout, false},
		{"both divide prefers raw", CD_SECTOR_SIZE * CD_DATA_SIZE, RawLayout, false},
		{"odd size", 100*CD_SECTOR_SIZE + 1, Layout{}, true},
		{"empty", 0, Layout{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectLayout(tt.size)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, common.ErrImageMalformed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLayout_BinOffset(t *testing.T) {
	tests := []struct {
		name   string
		layout Layout
		lba    uint32
		offset int64
		want   int64
	}{
		{"raw first byte", RawLayout, 163167, 0, 163167*2352 + 24},
		{"raw last byte of sector", RawLayout, 163167, 2047, 163167*2352 + 24 + 2047},
		{"raw next sector", RawLayout, 163167, 2048, 163168*2352 + 24},
		{"raw deep offset", RawLayout, 10, 0x100000, (10+512)*2352 + 24},
		{"cooked", CookedLayout, 10, 5000, 12*2048 + 904},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.layout.BinOffset(tt.lba, tt.offset))
		})
	}
}
