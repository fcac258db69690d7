package adapters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigScalingAndMatches(t *testing.T) {
	cfg := Config{Rank: 8, Alpha: 16, TargetModules: []string{"q_proj", "v_proj"}}
	assert.Equal(t, 2.0, cfg.Scaling())
	assert.True(t, cfg.Matches("q_proj"))
	assert.False(t, cfg.Matches("k_proj"))

	assert.Equal(t, 0.0, Config{}.Scaling())
}

func TestVariableClassification(t *testing.T) {
	ctx := context.New()
	loraA := ctx.In("model").In("layer_0").In("q_proj").In("lora").
		VariableWithValue("lora_a", []float32{0})
	base := ctx.In("model").In("layer_0").In("q_proj").In("dense").
		VariableWithValue("weights", []float32{0})
	// Optimizer moments mirror the variable scope but are not adapter state.
	moment := ctx.In("AdamOptimizer").In("model").In("layer_0").In("q_proj").In("lora").
		VariableWithValue("lora_a_1st_moment", []float32{0})

	assert.True(t, IsAdapterVariable(loraA))
	assert.False(t, IsAdapterVariable(base))
	assert.False(t, IsAdapterVariable(moment))

	frozen := FreezeBase(ctx)
	assert.Equal(t, 2, frozen)
	assert.True(t, loraA.Trainable)
	assert.False(t, base.Trainable)

	adapterVars := AdapterVariables(ctx)
	require.Len(t, adapterVars, 1)
	assert.Equal(t, loraA, adapterVars[0])
	assert.Len(t, BaseVariables(ctx), 2)
}

func TestLatestEpoch(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1", "3", "5", "notes", "epoch_7"} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, name), 0o777))
	}
	// A numerically named file must not count as a snapshot.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "9"), []byte("x"), 0o666))

	epoch, err := LatestEpoch(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, epoch)
}

func TestLatestEpochEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "notes"), 0o777))
	_, err := LatestEpoch(dir)
	require.Error(t, err)

	_, err = LatestEpoch(filepath.Join(dir, "does-not-exist"))
	require.Error(t, err)
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := Metadata{
		BaseModel:     "meta-llama/Llama-2-7b-hf",
		Rank:          8,
		Alpha:         16,
		TargetModules: []string{"q_proj", "v_proj"},
		TaskType:      "CAUSAL_LM",
	}
	require.NoError(t, m.Write(dir))

	loaded, err := LoadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
	assert.Equal(t, Config{Rank: 8, Alpha: 16, TargetModules: []string{"q_proj", "v_proj"}}, loaded.Config())
}

func TestMetadataValidate(t *testing.T) {
	valid := Metadata{BaseModel: "gpt2", Rank: 4, Alpha: 8, TargetModules: []string{"q_proj"}}
	require.NoError(t, valid.Validate())

	missingBase := valid
	missingBase.BaseModel = ""
	require.Error(t, missingBase.Validate())

	badRank := valid
	badRank.Rank = 0
	require.Error(t, badRank.Validate())

	noTargets := valid
	noTargets.TargetModules = nil
	require.Error(t, noTargets.Validate())
}

func TestLoadMetadataErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadMetadata(dir)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte("{not json"), 0o666))
	_, err = LoadMetadata(dir)
	require.Error(t, err)
}

func TestLineagePaths(t *testing.T) {
	assert.Equal(t,
		filepath.Join("ckpt", "argument", "llama2-chat", "TH_3", "Nigeria"),
		ResumeDir("ckpt", "llama2-chat", 3, "Nigeria"))
	assert.Equal(t,
		filepath.Join("ckpt", "argument_survey", "llama2-chat", "min_TH_3", "Nigeria", "epoch_2"),
		SnapshotDir("ckpt", "llama2-chat", "min", 3, "Nigeria", 2))
}
