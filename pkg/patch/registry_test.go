package patch

import (
	"errors"
	"testing"

	"github.com/hansbonini/blazetools/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	assert.Equal(t, []string{"field", "named_entity", "search", "signature", "table"}, Kinds())

	for _, kind := range Kinds() {
		p, err := Lookup(kind)
		require.NoError(t, err)
		assert.NotNil(t, p)
	}

	_, err := Lookup("ips")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConfigInvalid))
}

func TestApplyStage(t *testing.T) {
	sections, err := ParseSections([]byte(`{
		"off": {"enabled": false, "entries": [{"base_offset": 0, "field_size": 1, "new_value": 9}]},
		"on": {"entries": [{"base_offset": 1, "field_size": 1, "new_value": 7}]},
		"again": {"entries": [{"base_offset": 1, "field_size": 1, "expected_original": 0, "new_value": 8}]}
	}`), "/mod/fields.json")
	require.NoError(t, err)

	buf := make([]byte, 4)
	ctx := &Context{Stage: "fields", Payload: "archive"}
	result, err := ApplyStage(buf, KindField, &StageConfig{Path: "/mod/fields.json", Sections: sections}, ctx)
	require.NoError(t, err)
	// later sections see the output of earlier ones
	assert.Equal(t, &Result{Applied: 2, Warned: 1}, result)
	assert.Equal(t, []byte{0, 8, 0, 0}, buf)
	assert.Equal(t, "/mod", ctx.Dir)
}

func TestApplyStage_AnnotatesErrors(t *testing.T) {
	sections, err := ParseSections([]byte(`{
		"first": {"entries": [{"base_offset": 0, "field_size": 1, "new_value": 1}]},
		"broken": {"entries": [{"base_offset": 16, "field_size": 4, "new_value": 1}]}
	}`), "fields.json")
	require.NoError(t, err)

	buf := make([]byte, 8)
	result, err := ApplyStage(buf, KindField, &StageConfig{Path: "fields.json", Sections: sections},
		&Context{Stage: "ai_behavior", Payload: "archive"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrRangeExceeded))
	assert.Contains(t, err.Error(), "stage ai_behavior: payload archive: range exceeded at 0x10")
	assert.Equal(t, &Result{Applied: 1, Failed: 1}, result)
}
