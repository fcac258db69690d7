package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttentionImplForModel(t *testing.T) {
	assert.Equal(t, AttentionDecomposed, AttentionImplForModel("google/gemma-2b"))
	assert.Equal(t, AttentionDecomposed, AttentionImplForModel("Gemma-7b-it"))
	assert.Equal(t, AttentionAuto, AttentionImplForModel("gpt2"))
	assert.Equal(t, AttentionAuto, AttentionImplForModel("meta-llama/Llama-2-7b-hf"))
}

func TestRequireAttentionImpl(t *testing.T) {
	RequireAttentionImpl("testfamily", AttentionDecomposed)
	assert.Equal(t, AttentionDecomposed, AttentionImplForModel("acme/testfamily-3b"))

	// Overrides replace previous entries.
	RequireAttentionImpl("testfamily", AttentionFused)
	assert.Equal(t, AttentionFused, AttentionImplForModel("acme/testfamily-3b"))
}

func TestParseAttentionImpl(t *testing.T) {
	for value, want := range map[string]AttentionImpl{
		"":           AttentionAuto,
		"auto":       AttentionAuto,
		"fused":      AttentionFused,
		"decomposed": AttentionDecomposed,
		"eager":      AttentionDecomposed,
	} {
		got, err := ParseAttentionImpl(value)
		require.NoError(t, err)
		assert.Equal(t, want, got, "value %q", value)
	}
	_, err := ParseAttentionImpl("flash")
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		VocabSize: 100, ContextLen: 64, EmbedDim: 32, NumHeads: 4, NumLayers: 2, FFNDim: 128,
	}
	require.NoError(t, valid.Validate())
	assert.Equal(t, 8, valid.HeadDim())

	badHeads := valid
	badHeads.NumHeads = 3
	require.Error(t, badHeads.Validate())

	empty := Config{}
	require.Error(t, empty.Validate())
}

func TestHFConfigDefaults(t *testing.T) {
	hf := hfConfig{VocabSize: 50257, NEmbd: 768, NHead: 12, NLayer: 12, NPositions: 1024, LayerNormEpsilon: 1e-5}
	cfg := hf.toConfig()
	assert.Equal(t, 4*768, cfg.FFNDim)
	require.NoError(t, cfg.Validate())
}
