package cmd

import (
	"bytes"
	"errors"
	"log"
	"os"
	"testing"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/hansbonini/blazetools/pkg/psx/psxtest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipelineConfig = `{
  "source_image": "source.bin",
  "output_image": "out/patched.bin",
  "payloads": {"archive": {"file": "BLAZE.ALL", "lbas": [30, 40]}},
  "stages": [{"kind": "field", "payload": "archive", "config": "stages/field.json"}]
}`

// useMemFs swaps the command filesystem for an in-memory one holding a small disc
func useMemFs(t *testing.T, stage string) afero.Fs {
	t.Helper()
	var logs bytes.Buffer
	log.SetOutput(&logs)
	common.SetColorMode(false)

	archive := bytes.Repeat([]byte{0x00, 0x07}, 2048)
	disc := psxtest.Build(psxtest.Options{
		Sectors:  48,
		VolumeID: "BLAZE",
		Files: []psxtest.File{
			{Path: "SLES_008.45", LBA: 24, Data: bytes.Repeat([]byte{0x11}, 2048)},
			{Path: "DATA/BLAZE.ALL", LBA: 30, Data: archive},
			{Path: "DATA/COPY.ALL", LBA: 40, Data: archive},
		},
	})

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/mod/source.bin", disc, 0644))
	require.NoError(t, afero.WriteFile(fs, "/mod/pipeline.json", []byte(pipelineConfig), 0644))
	require.NoError(t, afero.WriteFile(fs, "/mod/stages/field.json", []byte(stage), 0644))

	previous := appFs
	appFs = fs
	t.Cleanup(func() {
		appFs = previous
		log.SetOutput(os.Stderr)
	})
	return fs
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 2, exitCode(errWarnings))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 1, exitCode(common.ErrRangeExceeded))
}

func TestRunPipeline(t *testing.T) {
	tests := []struct {
		name    string
		stage   string
		wantErr error
		written bool
	}{
		{
			name:    "clean run",
			stage:   `{"fix": {"entries": [{"base_offset": 0, "field_offset": 0, "field_size": 1, "expected_original": 0, "new_value": 9}]}}`,
			written: true,
		},
		{
			name:    "tolerated mismatch",
			stage:   `{"fix": {"entries": [{"base_offset": 1, "field_offset": 0, "field_size": 1, "expected_original": 0, "new_value": 9}]}}`,
			wantErr: errWarnings,
			written: true,
		},
		{
			name:    "fatal error",
			stage:   `{"fix": {"entries": [{"base_offset": "0x1000", "field_offset": 0, "field_size": 2, "new_value": 9}]}}`,
			wantErr: common.ErrRangeExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := useMemFs(t, tt.stage)
			var out bytes.Buffer

			err := runPipeline(&out, runOptions{config: "/mod/pipeline.json", report: "/mod/run.yaml"})
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}

			exists, err := afero.Exists(fs, "/mod/out/patched.bin")
			require.NoError(t, err)
			assert.Equal(t, tt.written, exists)

			assert.Contains(t, out.String(), "APPLIED")
			assert.Contains(t, out.String(), "TOTAL")
			report, err := afero.ReadFile(fs, "/mod/run.yaml")
			require.NoError(t, err)
			assert.Contains(t, string(report), "stages:")
		})
	}
}

func TestListFiles(t *testing.T) {
	useMemFs(t, "{}")
	var out bytes.Buffer

	require.NoError(t, listFiles(&out, "/mod/source.bin", false))
	text := out.String()
	assert.Contains(t, text, "Volume: BLAZE")
	assert.Contains(t, text, "DATA/BLAZE.ALL")
	assert.Contains(t, text, "SLES_008.45")
	assert.Contains(t, text, "DIR   DATA")

	out.Reset()
	require.NoError(t, listFiles(&out, "/mod/source.bin", true))
	text = out.String()
	assert.Contains(t, text, "FILE  DATA/BLAZE.ALL")
	assert.Contains(t, text, "FILE  DATA/COPY.ALL")
	assert.NotContains(t, text, "DIR ")

	assert.Error(t, listFiles(&out, "/mod/missing.bin", false))
}

func TestVerifyCopies(t *testing.T) {
	fs := useMemFs(t, "{}")
	var out bytes.Buffer

	require.NoError(t, verifyCopies(&out, "/mod/pipeline.json", "/mod/source.bin"))
	assert.Contains(t, out.String(), "archive")
	assert.Contains(t, out.String(), "OK")

	data, err := afero.ReadFile(fs, "/mod/source.bin")
	require.NoError(t, err)
	data[40*2352+24] ^= 0xFF
	require.NoError(t, afero.WriteFile(fs, "/mod/broken.bin", data, 0644))

	out.Reset()
	err = verifyCopies(&out, "/mod/pipeline.json", "/mod/broken.bin")
	assert.True(t, errors.Is(err, errCopiesDiverge))
	assert.Contains(t, out.String(), "DIVERGES")
	assert.Contains(t, out.String(), "differs at [40]")
}
