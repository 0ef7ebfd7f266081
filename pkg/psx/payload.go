package psx

import (
	"github.com/hansbonini/blazetools/pkg/common"
)

// ProgressFunc receives the number of sectors written so far out of total
type ProgressFunc func(done, total int)

// Extract returns exactly size bytes of user data stored from lba
func Extract(img *Image, lba uint32, size uint32) ([]byte, error) {
	data, err := img.CopyPayloadRange(lba, 0, int(size))
	if err != nil {
		return nil, common.WrapError(common.ErrKindImageMalformed, err,
			"extent at LBA %d (%d bytes) does not fit the image", lba, size)
	}
	return data, nil
}

// Inject writes buf sector by sector at every LBA in lbas. The last sector is zero-padded.
// Nothing is written unless buf fits reservedSectors and every copy fits the image.
func Inject(img *Image, buf []byte, lbas []uint32, reservedSectors uint32, progress ProgressFunc) error {
	sectors := common.GetSizeInSectors(uint32(len(buf)))
	if uint64(len(buf)) > uint64(reservedSectors)*CD_DATA_SIZE {
		return common.NewError(common.ErrKindPayloadOverflow,
			"%d bytes need %d sectors but only %d are reserved", len(buf), sectors, reservedSectors)
	}
	if sectors == 0 {
		return nil
	}

	padded := make([]byte, int(sectors)*CD_DATA_SIZE)
	copy(padded, buf)

	for _, lba := range lbas {
		if err := img.checkPayloadRange(lba, 0, len(padded)); err != nil {
			return common.WrapError(common.ErrKindRangeExceeded, err, "copy at LBA %d (%d sectors)", lba, sectors)
		}
	}

	total := int(sectors) * len(lbas)
	done := 0
	for _, lba := range lbas {
		for s := uint32(0); s < sectors; s++ {
			chunk := padded[s*CD_DATA_SIZE : (s+1)*CD_DATA_SIZE]
			if err := img.SplicePayloadRange(lba+s, 0, chunk); err != nil {
				return err
			}
			done++
			if progress != nil {
				progress(done, total)
			}
		}
	}
	return nil
}
