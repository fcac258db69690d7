package model

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"

	"github.com/JaehyeokLee-119/surveytune/adapters"
)

// Config describes the decoder-only transformer.
type Config struct {
	VocabSize  int
	ContextLen int
	EmbedDim   int
	NumHeads   int
	NumLayers  int
	FFNDim     int

	NormEpsilon float64
	DropoutRate float64
	DType       dtypes.DType

	// Attention selects the attention implementation, normally resolved
	// through the capability table (AttentionImplForModel).
	Attention AttentionImpl

	// Adapter configures the LoRA adapters layered over the projections.
	Adapter adapters.Config
}

// HeadDim returns the per-head dimension.
func (c Config) HeadDim() int { return c.EmbedDim / c.NumHeads }

// Validate checks the configuration describes a buildable model.
func (c Config) Validate() error {
	if c.VocabSize <= 0 || c.ContextLen <= 0 || c.EmbedDim <= 0 || c.NumLayers <= 0 || c.FFNDim <= 0 {
		return errors.Errorf("model config has non-positive dimensions: %+v", c)
	}
	if c.NumHeads <= 0 || c.EmbedDim%c.NumHeads != 0 {
		return errors.Errorf("embedding dimension (%d) must be divisible by the number of heads (%d)",
			c.EmbedDim, c.NumHeads)
	}
	return nil
}
