package pkg

import (
	"bytes"
	"math"
	"sort"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/hansbonini/blazetools/pkg/psx"
)

// Payload is a configured payload located on a loaded disc
type Payload struct {
	Name            string
	File            string
	LBAs            []uint32
	Size            uint32
	ReservedSectors uint32
	// Warnings counts directory disagreements found while resolving
	Warnings int

	buf      []byte
	pristine []byte
	// tail holds the bytes between Size and the end of the last sector
	tail []byte
}

// Buffer returns the working copy the stages patch
func (p *Payload) Buffer() []byte {
	return p.buf
}

// Modified reports whether any stage changed the buffer
func (p *Payload) Modified() bool {
	return !bytes.Equal(p.buf, p.pristine)
}

// directoryLoader parses the ISO9660 directory on first use
type directoryLoader struct {
	img *psx.Image
	dir *psx.Directory
}

func (l *directoryLoader) get() (*psx.Directory, error) {
	if l.dir != nil {
		return l.dir, nil
	}
	dir, err := psx.LoadDirectory(l.img)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToLoadDirectory, err)
	}
	l.dir = dir
	return dir, nil
}

// resolvePayload turns a payload config into LBAs and sizes. When the payload names an
// ISO file, the directory's size and sector count win over the configured ones.
func resolvePayload(name string, cfg PayloadConfig, dirs *directoryLoader) (*Payload, error) {
	p := &Payload{Name: name, File: cfg.File}
	for _, v := range cfg.LBAs {
		lba, err := common.SafeInt64ToUint32(v.Int())
		if err != nil {
			return nil, common.WrapError(common.ErrKindConfigInvalid, err, "payload %q", name)
		}
		p.LBAs = append(p.LBAs, lba)
	}
	if cfg.ReservedSectors != nil {
		reserved, err := common.SafeInt64ToUint32(cfg.ReservedSectors.Int())
		if err != nil {
			return nil, common.WrapError(common.ErrKindConfigInvalid, err, "payload %q", name)
		}
		p.ReservedSectors = reserved
	}

	if cfg.File == "" {
		size := uint64(p.ReservedSectors) * psx.CD_DATA_SIZE
		if size > math.MaxUint32 {
			return nil, common.NewError(common.ErrKindConfigInvalid,
				"payload %q: %d reserved sectors exceed a CD", name, p.ReservedSectors)
		}
		p.Size = uint32(size)
		return p, nil
	}

	dir, err := dirs.get()
	if err != nil {
		return nil, err
	}
	entry, err := dir.Find(cfg.File)
	if err != nil {
		return nil, common.Annotate(err, "", name)
	}
	common.LogInfo(common.InfoDirectoryResolved, name, entry.Path, entry.LBA, entry.Size)
	if uint64(entry.LBA)+uint64(common.GetSizeInSectors(entry.Size)) > uint64(dirs.img.Sectors()) {
		return nil, common.NewError(common.ErrKindImageMalformed,
			"payload %q: %s claims %d bytes at LBA %d, past the end of a %d-sector image",
			name, entry.Path, entry.Size, entry.LBA, dirs.img.Sectors())
	}

	p.Size = entry.Size
	if cfg.ReservedSectors != nil && p.ReservedSectors != entry.ExtentSize {
		common.LogWarn(common.WarnReservedMismatch, name, p.ReservedSectors, entry.ExtentSize, entry.ExtentSize)
		p.Warnings++
	}
	p.ReservedSectors = entry.ExtentSize

	if len(p.LBAs) == 0 {
		p.LBAs = []uint32{entry.LBA}
	} else if !containsLBA(p.LBAs, entry.LBA) {
		common.LogWarn(common.WarnLBANotConfigured, name, entry.LBA, p.LBAs)
		p.Warnings++
	}
	return p, nil
}

func containsLBA(lbas []uint32, lba uint32) bool {
	for _, l := range lbas {
		if l == lba {
			return true
		}
	}
	return false
}

type extent struct {
	payload string
	start   uint64
	end     uint64
}

// checkOverlap rejects payload copies whose reserved sector runs intersect
func checkOverlap(payloads []*Payload) error {
	var extents []extent
	for _, p := range payloads {
		for _, lba := range p.LBAs {
			extents = append(extents, extent{p.Name, uint64(lba), uint64(lba) + uint64(p.ReservedSectors)})
		}
	}
	sort.Slice(extents, func(i, j int) bool { return extents[i].start < extents[j].start })
	for i := 1; i < len(extents); i++ {
		prev, cur := extents[i-1], extents[i]
		if cur.start < prev.end {
			return common.NewError(common.ErrKindConfigInvalid,
				"payload %q at LBA %d overlaps payload %q (LBA %d-%d)",
				cur.payload, cur.start, prev.payload, prev.start, prev.end-1)
		}
	}
	return nil
}

// load extracts the payload from its first LBA and compares the other copies against it.
// It returns the number of diverging copies.
func (p *Payload) load(img *psx.Image) (int, error) {
	if len(p.LBAs) == 0 {
		return 0, common.NewError(common.ErrKindConfigInvalid, "payload %q has no LBA", p.Name)
	}
	frameSize := uint64(common.GetSizeInSectors(p.Size)) * psx.CD_DATA_SIZE
	if frameSize > uint64(img.Sectors())*psx.CD_DATA_SIZE || frameSize > math.MaxUint32 {
		return 0, common.NewError(common.ErrKindImageMalformed,
			"payload %q: %d bytes do not fit a %d-sector image", p.Name, p.Size, img.Sectors())
	}
	frame, err := psx.Extract(img, p.LBAs[0], uint32(frameSize))
	if err != nil {
		return 0, common.Annotate(err, "", p.Name)
	}
	if uint64(len(frame)) < uint64(p.Size) {
		return 0, common.NewError(common.ErrKindImageMalformed,
			"payload %q: extracted %d of %d bytes at LBA %d", p.Name, len(frame), p.Size, p.LBAs[0])
	}
	p.buf = frame[:p.Size:p.Size]
	p.pristine = append([]byte(nil), p.buf...)
	p.tail = frame[p.Size:]
	common.LogInfo(common.InfoPayloadExtracted, p.Name, p.Size, p.LBAs[0])

	diverging := 0
	for _, lba := range p.LBAs[1:] {
		copyData, err := psx.Extract(img, lba, p.Size)
		if err != nil {
			return diverging, common.Annotate(err, "", p.Name)
		}
		if !bytes.Equal(copyData, p.pristine) {
			common.LogWarn(common.WarnCopiesDiverge, p.Name, lba, p.LBAs[0])
			diverging++
		}
	}
	if diverging == 0 && len(p.LBAs) > 1 {
		common.LogInfo(common.InfoCopiesIdentical, p.Name, len(p.LBAs))
	}
	return diverging, nil
}

// store writes the buffer, plus the untouched tail of its last sector, to every LBA
func (p *Payload) store(img *psx.Image, progress psx.ProgressFunc) error {
	data := make([]byte, 0, len(p.buf)+len(p.tail))
	data = append(data, p.buf...)
	data = append(data, p.tail...)
	if err := psx.Inject(img, data, p.LBAs, p.ReservedSectors, progress); err != nil {
		return common.Annotate(err, "", p.Name)
	}
	common.LogInfo(common.InfoPayloadInjected, p.Name, common.GetSizeInSectors(uint32(len(data))), p.LBAs)
	return nil
}
