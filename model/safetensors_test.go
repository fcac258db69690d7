package model

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFloats(t *testing.T) {
	f32 := make([]byte, 8)
	binary.LittleEndian.PutUint32(f32[0:], math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(f32[4:], math.Float32bits(-2.0))
	values, err := decodeFloats(f32, "F32")
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2.0}, values)

	// BF16 is the top half of the float32 bit pattern.
	bf16 := make([]byte, 2)
	binary.LittleEndian.PutUint16(bf16, uint16(math.Float32bits(1.5)>>16))
	values, err = decodeFloats(bf16, "BF16")
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5}, values)

	_, err = decodeFloats(nil, "I64")
	require.Error(t, err)
}

func TestTranspose2D(t *testing.T) {
	// [[1 2 3] [4 5 6]] -> [[1 4] [2 5] [3 6]]
	got := transpose2D([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, got)
}

// writeSafetensors builds a minimal safetensors file for the given tensors.
func writeSafetensors(t *testing.T, path string, entries map[string][]float32, shapes map[string][]int) {
	header := make(map[string]tensorInfo)
	var data []byte
	for name, values := range entries {
		start := len(data)
		for _, v := range values {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			data = append(data, buf[:]...)
		}
		header[name] = tensorInfo{DType: "F32", Shape: shapes[name], Offsets: [2]int{start, len(data)}}
	}
	headerBytes, err := json.Marshal(header)
	require.NoError(t, err)

	file := make([]byte, 8)
	binary.LittleEndian.PutUint64(file, uint64(len(headerBytes)))
	file = append(file, headerBytes...)
	file = append(file, data...)
	require.NoError(t, os.WriteFile(path, file, 0o666))
}

func TestLoadSafetensors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, weightsFile)

	// A 2-token vocab, 2-dim embedding and a fused qkv for one layer.
	wte := []float32{1, 2, 3, 4}        // [2, 2]
	cAttn := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12} // [2, 6]
	cAttnBias := []float32{10, 20, 30, 40, 50, 60}            // [6]
	writeSafetensors(t, path,
		map[string][]float32{
			"transformer.wte.weight":          wte,
			"transformer.h.0.attn.c_attn.weight": cAttn,
			"transformer.h.0.attn.c_attn.bias":   cAttnBias,
		},
		map[string][]int{
			"transformer.wte.weight":          {2, 2},
			"transformer.h.0.attn.c_attn.weight": {2, 6},
			"transformer.h.0.attn.c_attn.bias":   {6},
		})

	ctx := context.New()
	cfg := Config{VocabSize: 2, ContextLen: 4, EmbedDim: 2, NumHeads: 1, NumLayers: 1, FFNDim: 8}
	loaded, err := loadSafetensors(ctx, cfg, path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded)

	embed := ctx.GetVariableByScopeAndName("/token_embed", "embeddings")
	require.NotNil(t, embed)
	assert.False(t, embed.Trainable)
	assert.Equal(t, []int{2, 2}, embed.Shape().Dimensions)

	// Tied logits head is the transposed embedding table.
	head := ctx.GetVariableByScopeAndName("/lm_head/dense", "weights")
	require.NotNil(t, head)
	assert.Equal(t, []int{2, 2}, head.Shape().Dimensions)

	// Fused qkv split into thirds along the output axis.
	q := ctx.GetVariableByScopeAndName("/layer_0/q_proj/dense", "weights")
	require.NotNil(t, q)
	assert.Equal(t, []int{2, 2}, q.Shape().Dimensions)
	qValues := q.MustValue().Value().([][]float32)
	assert.Equal(t, [][]float32{{1, 2}, {7, 8}}, qValues)

	vBias := ctx.GetVariableByScopeAndName("/layer_0/v_proj/dense", "biases")
	require.NotNil(t, vBias)
	assert.Equal(t, []float32{50, 60}, vBias.MustValue().Value().([]float32))
}
