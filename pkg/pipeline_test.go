package pkg

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"log"
	"math/rand"
	"os"
	"testing"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/hansbonini/blazetools/pkg/patch"
	"github.com/hansbonini/blazetools/pkg/psx"
	"github.com/hansbonini/blazetools/pkg/psx/psxtest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	exeLBA         = 24
	archiveLBA     = 30
	archiveCopyLBA = 40
	archiveSize    = 4 * psx.CD_DATA_SIZE
	boostOffset    = 0x1000
)

const fieldStage = `{"stat_fixes": {"enabled": true, "entries": [
	{"label": "boost", "base_offset": "0x1000", "field_offset": 0, "field_size": 1,
	 "expected_original": 0, "new_value": "0x5A"}
]}}`

const pipelineConfig = `{
  "source_image": "source.bin",
  "output_image": "out/patched.bin",
  "payloads": {
    "archive": {"file": "DATA/BLAZE.ALL", "lbas": [30, 40], "reserved_sectors": 4},
    "exe": {"lbas": ["0x18"], "reserved_sectors": 1}
  },
  "stages": [
    {"kind": "field", "payload": "archive", "config": "stages/field.json"}
  ]
}`

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	common.SetColorMode(false)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func archiveData() []byte {
	data := make([]byte, archiveSize)
	for i := range data {
		data[i] = byte(i*13 + 1)
	}
	data[boostOffset] = 0
	return data
}

func testDisc(cooked bool) psxtest.Options {
	archive := archiveData()
	return psxtest.Options{
		Sectors:  48,
		Cooked:   cooked,
		VolumeID: "BLAZE",
		Files: []psxtest.File{
			{Path: "SYSTEM.CNF", LBA: 22, Data: []byte("BOOT = cdrom:\\SLES_008.45;1\r\n")},
			{Path: "SLES_008.45", LBA: exeLBA, Data: bytes.Repeat([]byte{0x11}, psx.CD_DATA_SIZE)},
			{Path: "DATA/BLAZE.ALL", LBA: archiveLBA, Data: archive},
			{Path: "DATA/COPY.ALL", LBA: archiveCopyLBA, Data: archive},
		},
	}
}

// newTestFs lays out a mod directory with the source image, the pipeline config and stage files
func newTestFs(t *testing.T, source []byte, config string, stages map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/mod/source.bin", source, 0644))
	require.NoError(t, afero.WriteFile(fs, "/mod/pipeline.json", []byte(config), 0644))
	for name, body := range stages {
		require.NoError(t, afero.WriteFile(fs, "/mod/stages/"+name, []byte(body), 0644))
	}
	return fs
}

func readImage(t *testing.T, fs afero.Fs, path string) *psx.Image {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	img, err := psx.NewImage(data)
	require.NoError(t, err)
	return img
}

func extractAt(t *testing.T, img *psx.Image, lba uint32) []byte {
	t.Helper()
	data, err := psx.Extract(img, lba, archiveSize)
	require.NoError(t, err)
	return data
}

func TestPipeline_NullOpRoundTrip(t *testing.T) {
	captureLog(t)
	odd := make([]byte, 1000003)
	rand.New(rand.NewSource(7)).Read(odd)

	for name, source := range map[string][]byte{
		"disc":      psxtest.Build(testDisc(false)),
		"odd bytes": odd,
	} {
		t.Run(name, func(t *testing.T) {
			config := `{"source_image": "source.bin", "output_image": "out/patched.bin", "stages": []}`
			fs := newTestFs(t, source, config, nil)

			report, err := NewPipelineProcessor(fs).RunFile("/mod/pipeline.json")
			require.NoError(t, err)
			assert.True(t, report.Written)

			out, err := afero.ReadFile(fs, "/mod/out/patched.bin")
			require.NoError(t, err)
			assert.Equal(t, sha256.Sum256(source), sha256.Sum256(out))
		})
	}
}

func TestPipeline_FieldWriteReachesEveryCopy(t *testing.T) {
	captureLog(t)
	source := psxtest.Build(testDisc(false))
	fs := newTestFs(t, source, pipelineConfig, map[string]string{"field.json": fieldStage})

	report, err := NewPipelineProcessor(fs).RunFile("/mod/pipeline.json")
	require.NoError(t, err)
	assert.Equal(t, patch.Result{Applied: 1}, report.Totals)
	assert.Equal(t, 0, report.Warnings())
	assert.True(t, report.Written)
	require.Len(t, report.Payloads, 1)
	assert.True(t, report.Payloads[0].Modified)
	assert.Equal(t, []uint32{archiveLBA, archiveCopyLBA}, report.Payloads[0].LBAs)

	out := readImage(t, fs, "/mod/out/patched.bin")
	assert.Len(t, out.Data, len(source))

	want := archiveData()
	want[boostOffset] = 0x5A
	assert.Equal(t, want, extractAt(t, out, archiveLBA))
	assert.Equal(t, want, extractAt(t, out, archiveCopyLBA))

	// only the user data of the two sectors holding the field changed
	changed := []uint32{archiveLBA + 2, archiveCopyLBA + 2}
	for lba := uint32(0); lba < out.Sectors(); lba++ {
		start := int(lba) * psx.CD_SECTOR_SIZE
		before := source[start : start+psx.CD_SECTOR_SIZE]
		after := out.Data[start : start+psx.CD_SECTOR_SIZE]
		assert.Equal(t, before[:psx.CD_USER_OFFSET], after[:psx.CD_USER_OFFSET], "header of LBA %d", lba)
		assert.Equal(t, before[psx.CD_TRAILER_OFFSET:], after[psx.CD_TRAILER_OFFSET:], "trailer of LBA %d", lba)
		if lba != changed[0] && lba != changed[1] {
			assert.Equal(t, before, after, "LBA %d", lba)
		}
	}
}

func TestPipeline_SecondRunIsNoop(t *testing.T) {
	logs := captureLog(t)
	fs := newTestFs(t, psxtest.Build(testDisc(false)), pipelineConfig, map[string]string{"field.json": fieldStage})
	processor := NewPipelineProcessor(fs)

	_, err := processor.RunFile("/mod/pipeline.json")
	require.NoError(t, err)
	first, err := afero.ReadFile(fs, "/mod/out/patched.bin")
	require.NoError(t, err)

	cfg, err := LoadConfig(fs, "/mod/pipeline.json")
	require.NoError(t, err)
	cfg.SourceImage = "/mod/out/patched.bin"
	cfg.OutputImage = "/mod/out/second.bin"

	logs.Reset()
	report, err := processor.Run(cfg)
	require.NoError(t, err)
	assert.Equal(t, patch.Result{Skipped: 1}, report.Totals)
	assert.False(t, report.Payloads[0].Modified)
	assert.Contains(t, logs.String(), "boost at 0x1000: already patched")
	assert.Contains(t, logs.String(), `Stage "field": no-op`)
	assert.Contains(t, logs.String(), `Payload "archive" unchanged`)

	second, err := afero.ReadFile(fs, "/mod/out/second.bin")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPipeline_Deterministic(t *testing.T) {
	captureLog(t)
	fs := newTestFs(t, psxtest.Build(testDisc(false)), pipelineConfig, map[string]string{"field.json": fieldStage})
	processor := NewPipelineProcessor(fs)

	var outputs [][]byte
	for i := 0; i < 2; i++ {
		_, err := processor.RunFile("/mod/pipeline.json")
		require.NoError(t, err)
		out, err := afero.ReadFile(fs, "/mod/out/patched.bin")
		require.NoError(t, err)
		outputs = append(outputs, out)
	}
	assert.Equal(t, outputs[0], outputs[1])
}

func TestPipeline_FatalErrorWritesNothing(t *testing.T) {
	captureLog(t)
	config := `{
  "source_image": "source.bin",
  "output_image": "out/patched.bin",
  "payloads": {"archive": {"file": "BLAZE.ALL", "lbas": [30, 40]}},
  "stages": [
    {"kind": "field", "payload": "archive", "config": "stages/field.json"},
    {"kind": "field", "payload": "archive", "config": "stages/broken.json", "label": "broken"}
  ]
}`
	broken := `{"oops": {"entries": [{"base_offset": "0x2000", "field_offset": 0, "field_size": 4, "new_value": 1}]}}`
	fs := newTestFs(t, psxtest.Build(testDisc(false)), config, map[string]string{
		"field.json":  fieldStage,
		"broken.json": broken,
	})

	report, err := NewPipelineProcessor(fs).RunFile("/mod/pipeline.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrRangeExceeded))
	assert.Contains(t, err.Error(), "stage broken: payload archive: range exceeded at 0x2000")

	assert.False(t, report.Written)
	assert.NotEmpty(t, report.Error)
	require.Len(t, report.Stages, 2)
	assert.Equal(t, patch.Result{Applied: 1}, report.Stages[0].Result)
	assert.Equal(t, patch.Result{Failed: 1}, report.Stages[1].Result)

	exists, err := afero.Exists(fs, "/mod/out/patched.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPipeline_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   error
	}{
		{
			name: "missing ISO file",
			config: `{"source_image": "source.bin", "output_image": "out.bin",
				"payloads": {"archive": {"file": "MISSING.ALL"}},
				"stages": [{"kind": "field", "payload": "archive", "config": "stages/field.json"}]}`,
			want: common.ErrFileNotFound,
		},
		{
			name: "overlapping payloads",
			config: `{"source_image": "source.bin", "output_image": "out.bin",
				"payloads": {"archive": {"lbas": [30], "reserved_sectors": 4},
				             "exe": {"lbas": [32], "reserved_sectors": 1}},
				"stages": [{"kind": "field", "payload": "archive", "config": "stages/field.json"},
				           {"kind": "field", "payload": "exe", "config": "stages/field.json", "enabled": false},
				           {"kind": "search", "payload": "exe", "config": "stages/field.json"}]}`,
			want: common.ErrConfigInvalid,
		},
		{
			name: "unknown kind",
			config: `{"source_image": "source.bin", "output_image": "out.bin",
				"payloads": {"archive": {"lbas": [30], "reserved_sectors": 4}},
				"stages": [{"kind": "bogus", "payload": "archive", "config": "stages/field.json"}]}`,
			want: common.ErrConfigInvalid,
		},
		{
			name: "missing stage config",
			config: `{"source_image": "source.bin", "output_image": "out.bin",
				"payloads": {"archive": {"lbas": [30], "reserved_sectors": 4}},
				"stages": [{"kind": "field", "payload": "archive", "config": "stages/nope.json"}]}`,
		},
		{
			name: "payload past image end",
			config: `{"source_image": "source.bin", "output_image": "out.bin",
				"payloads": {"archive": {"lbas": [46], "reserved_sectors": 4}},
				"stages": [{"kind": "field", "payload": "archive", "config": "stages/field.json"}]}`,
			want: common.ErrImageMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captureLog(t)
			fs := newTestFs(t, psxtest.Build(testDisc(false)), tt.config, map[string]string{"field.json": fieldStage})

			report, err := NewPipelineProcessor(fs).RunFile("/mod/pipeline.json")
			require.Error(t, err)
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
			}
			assert.False(t, report.Written)
			exists, _ := afero.Exists(fs, "/mod/out.bin")
			assert.False(t, exists)
		})
	}
}

func TestPipeline_OversizedDirectoryRecord(t *testing.T) {
	config := `{"source_image": "source.bin", "output_image": "out.bin",
		"payloads": {"archive": {"file": "DATA/BLAZE.ALL", "lbas": [30]}},
		"stages": [{"kind": "field", "payload": "archive", "config": "stages/field.json"}]}`

	tests := []struct {
		name string
		size uint32
	}{
		{"largest size", 0xFFFFFFFF},
		{"sector count wraps", 0xFFFFF801},
		{"extent past last sector", 20 * psx.CD_DATA_SIZE},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captureLog(t)
			disc := testDisc(false)
			disc.Files[2].Size = tt.size
			fs := newTestFs(t, psxtest.Build(disc), config, map[string]string{"field.json": fieldStage})

			var report *Report
			var err error
			require.NotPanics(t, func() {
				report, err = NewPipelineProcessor(fs).RunFile("/mod/pipeline.json")
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrImageMalformed), "got %v", err)
			assert.False(t, report.Written)
			exists, _ := afero.Exists(fs, "/mod/out.bin")
			assert.False(t, exists)
		})
	}
}

func TestPayload_LoadRejectsOversizedFrame(t *testing.T) {
	img, err := psx.NewImage(psxtest.Build(testDisc(false)))
	require.NoError(t, err)

	for _, size := range []uint32{0xFFFFFFFF, 0xFFFFF801, 49 * psx.CD_DATA_SIZE} {
		p := &Payload{Name: "archive", LBAs: []uint32{archiveLBA}, Size: size}
		require.NotPanics(t, func() {
			_, err = p.load(img)
		})
		assert.True(t, errors.Is(err, common.ErrImageMalformed), "size 0x%X: got %v", size, err)
	}
}

func TestPipeline_DisabledEntriesLeaveImageUntouched(t *testing.T) {
	logs := captureLog(t)
	source := psxtest.Build(testDisc(false))
	stage := `{"stat_fixes": {"enabled": false, "entries": [
		{"base_offset": "0x1000", "field_offset": 0, "field_size": 1, "new_value": "0x5A"}]}}`
	fs := newTestFs(t, source, pipelineConfig, map[string]string{"field.json": stage})

	report, err := NewPipelineProcessor(fs).RunFile("/mod/pipeline.json")
	require.NoError(t, err)
	assert.Equal(t, patch.Result{}, report.Totals)
	assert.Contains(t, logs.String(), `Section "stat_fixes" disabled`)

	out, err := afero.ReadFile(fs, "/mod/out/patched.bin")
	require.NoError(t, err)
	assert.Equal(t, source, out)
}

func TestPipeline_DirectoryDisagreementWarns(t *testing.T) {
	logs := captureLog(t)
	config := `{"source_image": "source.bin", "output_image": "out/patched.bin",
		"payloads": {"archive": {"file": "BLAZE.ALL", "lbas": [40], "reserved_sectors": 6}},
		"stages": [{"kind": "field", "payload": "archive", "config": "stages/field.json"}]}`
	fs := newTestFs(t, psxtest.Build(testDisc(false)), config, map[string]string{"field.json": fieldStage})

	report, err := NewPipelineProcessor(fs).RunFile("/mod/pipeline.json")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Warnings())
	assert.Equal(t, uint32(4), report.Payloads[0].ReservedSectors)
	assert.Contains(t, logs.String(), "reserved_sectors 6 differs from directory value 4")
	assert.Contains(t, logs.String(), "directory LBA 30 is not among configured LBAs [40]")

	// the configured copy is the one patched
	out := readImage(t, fs, "/mod/out/patched.bin")
	assert.Equal(t, byte(0x5A), extractAt(t, out, archiveCopyLBA)[boostOffset])
	assert.Equal(t, byte(0), extractAt(t, out, archiveLBA)[boostOffset])
}

func TestPipeline_DivergingCopiesWarn(t *testing.T) {
	logs := captureLog(t)
	opts := testDisc(false)
	opts.Files[3].Data = bytes.Repeat([]byte{0xEE}, archiveSize)
	fs := newTestFs(t, psxtest.Build(opts), pipelineConfig, map[string]string{"field.json": fieldStage})

	report, err := NewPipelineProcessor(fs).RunFile("/mod/pipeline.json")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Warnings())
	assert.Contains(t, logs.String(), `Payload "archive": copy at LBA 40 differs from LBA 30`)

	// injection realigns the copies
	out := readImage(t, fs, "/mod/out/patched.bin")
	assert.Equal(t, extractAt(t, out, archiveLBA), extractAt(t, out, archiveCopyLBA))
}

func TestPipeline_StrictStage(t *testing.T) {
	captureLog(t)
	config := `{"source_image": "source.bin", "output_image": "out/patched.bin",
		"payloads": {"archive": {"file": "BLAZE.ALL"}},
		"stages": [{"kind": "field", "payload": "archive", "config": "stages/field.json", "strict": true}]}`
	stage := `{"stat_fixes": {"entries": [
		{"base_offset": "0x1001", "field_offset": 0, "field_size": 1, "expected_original": 0, "new_value": 1}]}}`
	fs := newTestFs(t, psxtest.Build(testDisc(false)), config, map[string]string{"field.json": stage})

	_, err := NewPipelineProcessor(fs).RunFile("/mod/pipeline.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrMismatch))
}

func TestPipeline_ProgressAndEDC(t *testing.T) {
	captureLog(t)
	source := psxtest.Build(testDisc(false))
	fs := newTestFs(t, source, pipelineConfig, map[string]string{"field.json": fieldStage})

	var calls [][2]int
	processor := NewPipelineProcessor(fs)
	processor.FixEDC = true
	processor.Progress = func(done, total int) { calls = append(calls, [2]int{done, total}) }

	report, err := processor.RunFile("/mod/pipeline.json")
	require.NoError(t, err)
	require.Len(t, calls, 8)
	assert.Equal(t, [2]int{8, 8}, calls[7])
	assert.Equal(t, 8, report.EDCSectors)

	out := readImage(t, fs, "/mod/out/patched.bin")
	start := int(archiveLBA+2) * psx.CD_SECTOR_SIZE
	sector := out.Data[start : start+psx.CD_SECTOR_SIZE]
	assert.NotEqual(t, source[start+psx.CD_TRAILER_OFFSET:start+psx.CD_SECTOR_SIZE], sector[psx.CD_TRAILER_OFFSET:])
	assert.Equal(t, source[start:start+psx.CD_USER_OFFSET], sector[:psx.CD_USER_OFFSET])

	// untouched sectors keep their trailer
	other := int(exeLBA) * psx.CD_SECTOR_SIZE
	assert.Equal(t, source[other:other+psx.CD_SECTOR_SIZE], out.Data[other:other+psx.CD_SECTOR_SIZE])
}

func TestPipeline_CookedImage(t *testing.T) {
	captureLog(t)
	source := psxtest.Build(testDisc(true))
	fs := newTestFs(t, source, pipelineConfig, map[string]string{"field.json": fieldStage})

	report, err := NewPipelineProcessor(fs).RunFile("/mod/pipeline.json")
	require.NoError(t, err)
	assert.Equal(t, psx.CookedLayout.String(), report.Layout)

	out, err := afero.ReadFile(fs, "/mod/out/patched.bin")
	require.NoError(t, err)
	require.Len(t, out, len(source))
	for _, lba := range []int{archiveLBA, archiveCopyLBA} {
		assert.Equal(t, byte(0x5A), out[lba*psx.CD_DATA_SIZE+boostOffset])
	}
}
