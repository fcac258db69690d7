package model

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// tensorInfo is one entry of a safetensors header.
type tensorInfo struct {
	DType   string `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

// loadSafetensors reads a GPT-2 family safetensors file and sets the mapped
// tensors as frozen variables of ctx, using this package's variable layout.
// Unmapped tensors (e.g. the attention bias buffers) are skipped.
func loadSafetensors(ctx *context.Context, cfg Config, path string) (loaded int, err error) {
	fileData, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read weights %q", path)
	}
	if len(fileData) < 8 {
		return 0, errors.Errorf("weights file %q too small for a safetensors header", path)
	}
	headerSize := int(binary.LittleEndian.Uint64(fileData[:8]))
	if len(fileData) < 8+headerSize {
		return 0, errors.Errorf("weights file %q truncated: header claims %d bytes", path, headerSize)
	}

	var rawHeader map[string]json.RawMessage
	if err = json.Unmarshal(fileData[8:8+headerSize], &rawHeader); err != nil {
		return 0, errors.Wrapf(err, "failed to parse safetensors header of %q", path)
	}
	data := fileData[8+headerSize:]

	for name, raw := range rawHeader {
		if name == "__metadata__" {
			continue
		}
		var info tensorInfo
		if err = json.Unmarshal(raw, &info); err != nil {
			return loaded, errors.Wrapf(err, "invalid safetensors entry %q in %q", name, path)
		}
		if info.Offsets[0] < 0 || info.Offsets[1] > len(data) || info.Offsets[0] > info.Offsets[1] {
			return loaded, errors.Errorf("tensor %q has offsets %v outside the data section", name, info.Offsets)
		}
		values, err := decodeFloats(data[info.Offsets[0]:info.Offsets[1]], info.DType)
		if err != nil {
			return loaded, errors.WithMessagef(err, "tensor %q", name)
		}
		if err = setMappedVariables(ctx, cfg, name, info.Shape, values); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// decodeFloats converts the raw little-endian tensor bytes to float32.
func decodeFloats(data []byte, dtype string) ([]float32, error) {
	switch dtype {
	case "F32":
		values := make([]float32, len(data)/4)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return values, nil
	case "F16":
		values := make([]float32, len(data)/2)
		for i := range values {
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(data[i*2:])).Float32()
		}
		return values, nil
	case "BF16":
		values := make([]float32, len(data)/2)
		for i := range values {
			values[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(data[i*2:])) << 16)
		}
		return values, nil
	}
	return nil, errors.Errorf("unsupported safetensors dtype %q", dtype)
}

// setMappedVariables maps one HuggingFace GPT-2 tensor to this package's
// variable layout and sets it (frozen) in ctx. The fused c_attn tensor is
// split into the q/k/v projections. Conv1D weights are already stored
// [in, out], matching the dense layer convention, so only the tied token
// embedding needs a transpose.
func setMappedVariables(ctx *context.Context, cfg Config, name string, shape []int, values []float32) error {
	switch name {
	case "transformer.wte.weight":
		setFrozen(ctx.In("token_embed"), "embeddings", shape, values)
		// Tied logits head: [vocab, embed] -> [embed, vocab].
		setFrozen(ctx.In("lm_head").In("dense"), "weights",
			[]int{shape[1], shape[0]}, transpose2D(values, shape[0], shape[1]))
		return nil
	case "transformer.wpe.weight":
		setFrozen(ctx.In("pos_embed"), "embeddings", shape, values)
		return nil
	case "transformer.ln_f.weight":
		setFrozen(ctx.In("final_norm").In("layer_normalization"), "gain", shape, values)
		return nil
	case "transformer.ln_f.bias":
		setFrozen(ctx.In("final_norm").In("layer_normalization"), "offset", shape, values)
		return nil
	}

	var layer int
	var component string
	if n, err := fmt.Sscanf(name, "transformer.h.%d.%s", &layer, &component); n != 2 || err != nil {
		return nil // Not a weight we use.
	}
	ctxLayer := ctx.In(fmt.Sprintf("layer_%d", layer))
	switch component {
	case "ln_1.weight":
		setFrozen(ctxLayer.In("ln_1").In("layer_normalization"), "gain", shape, values)
	case "ln_1.bias":
		setFrozen(ctxLayer.In("ln_1").In("layer_normalization"), "offset", shape, values)
	case "ln_2.weight":
		setFrozen(ctxLayer.In("ln_2").In("layer_normalization"), "gain", shape, values)
	case "ln_2.bias":
		setFrozen(ctxLayer.In("ln_2").In("layer_normalization"), "offset", shape, values)
	case "attn.c_attn.weight", "attn.c_attn.bias":
		return setSplitQKV(ctxLayer, name, shape, values, strings.HasSuffix(component, "weight"))
	case "attn.c_proj.weight":
		setFrozen(ctxLayer.In("o_proj").In("dense"), "weights", shape, values)
	case "attn.c_proj.bias":
		setFrozen(ctxLayer.In("o_proj").In("dense"), "biases", shape, values)
	case "mlp.c_fc.weight":
		setFrozen(ctxLayer.In("up_proj").In("dense"), "weights", shape, values)
	case "mlp.c_fc.bias":
		setFrozen(ctxLayer.In("up_proj").In("dense"), "biases", shape, values)
	case "mlp.c_proj.weight":
		setFrozen(ctxLayer.In("down_proj").In("dense"), "weights", shape, values)
	case "mlp.c_proj.bias":
		setFrozen(ctxLayer.In("down_proj").In("dense"), "biases", shape, values)
	}
	return nil
}

// setSplitQKV splits the fused c_attn tensor into thirds along its last axis
// and assigns them to the q/k/v projections.
func setSplitQKV(ctxLayer *context.Context, name string, shape []int, values []float32, isWeight bool) error {
	lastDim := shape[len(shape)-1]
	if lastDim%3 != 0 {
		return errors.Errorf("fused qkv tensor %q has last dimension %d, not divisible by 3", name, lastDim)
	}
	third := lastDim / 3
	varName := "biases"
	partShape := []int{third}
	rows := 1
	if isWeight {
		varName = "weights"
		partShape = []int{shape[0], third}
		rows = shape[0]
	}
	for part, proj := range []string{"q_proj", "k_proj", "v_proj"} {
		partValues := make([]float32, rows*third)
		for row := 0; row < rows; row++ {
			copy(partValues[row*third:(row+1)*third],
				values[row*lastDim+part*third:row*lastDim+(part+1)*third])
		}
		setFrozen(ctxLayer.In(proj).In("dense"), varName, partShape, partValues)
	}
	return nil
}

func setFrozen(ctx *context.Context, name string, shape []int, values []float32) {
	tensor := tensors.FromFlatDataAndDimensions(values, shape...)
	v := ctx.Checked(false).VariableWithValue(name, tensor)
	v.SetTrainable(false)
}

func transpose2D(values []float32, rows, cols int) []float32 {
	out := make([]float32, len(values))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = values[i*cols+j]
		}
	}
	return out
}
