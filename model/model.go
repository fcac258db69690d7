// Package model builds the decoder-only transformer graph used for
// fine-tuning: token and positional embeddings, pre-norm blocks with causal
// self-attention, LoRA-adapted projections and a logits head.
//
// All base variables are created frozen; only the adapter variables added by
// the adapters package receive gradients.
package model

import (
	"fmt"
	"math"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/attention"

	"github.com/JaehyeokLee-119/surveytune/adapters"
)

// Forward builds the forward graph. Inputs are the token ids (int [batch,
// seq]) and the attention mask (bool [batch, seq], true on real tokens). It
// returns the logits, shaped [batch, seq, vocab].
func Forward(ctx *context.Context, cfg Config, inputs []*Node) []*Node {
	ids, mask := inputs[0], inputs[1]
	g := ids.Graph()
	seqLen := ids.Shape().Dim(1)

	embedded := layers.Embedding(ctx.In("token_embed"), ids, cfg.DType, cfg.VocabSize, cfg.EmbedDim)
	freezeInScope(ctx.In("token_embed"), "embeddings")

	posVar := ctx.In("pos_embed").VariableWithShape("embeddings",
		shapes.Make(cfg.DType, cfg.ContextLen, cfg.EmbedDim))
	posVar.SetTrainable(false)
	pos := Slice(posVar.ValueGraph(g), AxisRange(0, seqLen), AxisRange())
	x := Add(embedded, InsertAxes(pos, 0))

	attnMask := causalPaddingMask(mask, seqLen)
	for layer := 0; layer < cfg.NumLayers; layer++ {
		x = transformerBlock(ctx.In(fmt.Sprintf("layer_%d", layer)), cfg, x, attnMask)
	}

	x = layerNorm(ctx.In("final_norm"), cfg, x)
	logits := adapters.Dense(ctx, cfg.Adapter, "lm_head", x, false, cfg.VocabSize)
	return []*Node{logits}
}

// causalPaddingMask combines the causal constraint with the padding mask
// into a boolean mask broadcastable to the [batch, q, heads, k] score
// layout: position q may attend to position k iff k <= q and k is a real
// token.
func causalPaddingMask(mask *Node, seqLen int) *Node {
	g := mask.Graph()
	batchSize := mask.Shape().Dim(0)
	broadcast := shapes.Make(dtypes.Bool, batchSize, seqLen, 1, seqLen)

	causal := LowerTriangular(g, seqLen)
	causal = BroadcastToShape(Reshape(causal, 1, seqLen, 1, seqLen), broadcast)
	keys := BroadcastToShape(Reshape(mask, batchSize, 1, 1, seqLen), broadcast)
	return LogicalAnd(causal, keys)
}

func transformerBlock(ctx *context.Context, cfg Config, x, attnMask *Node) *Node {
	residual := x
	h := layerNorm(ctx.In("ln_1"), cfg, x)
	x = Add(residual, selfAttention(ctx, cfg, h, attnMask))

	residual = x
	h = layerNorm(ctx.In("ln_2"), cfg, x)
	return Add(residual, mlp(ctx, cfg, h))
}

func selfAttention(ctx *context.Context, cfg Config, x, attnMask *Node) *Node {
	batchSize := x.Shape().Dim(0)
	seqLen := x.Shape().Dim(1)
	headDim := cfg.HeadDim()

	query := adapters.Dense(ctx, cfg.Adapter, "q_proj", x, true, cfg.EmbedDim)
	key := adapters.Dense(ctx, cfg.Adapter, "k_proj", x, true, cfg.EmbedDim)
	value := adapters.Dense(ctx, cfg.Adapter, "v_proj", x, true, cfg.EmbedDim)

	query = Reshape(query, batchSize, seqLen, cfg.NumHeads, headDim)
	key = Reshape(key, batchSize, seqLen, cfg.NumHeads, headDim)
	value = Reshape(value, batchSize, seqLen, cfg.NumHeads, headDim)

	// The capability table may force the decomposed path; requesting the
	// coefficients is how Core avoids the fused op.
	wantDecomposed := cfg.Attention == AttentionDecomposed
	var dropoutRate *Node
	if cfg.DropoutRate > 0 {
		dropoutRate = Scalar(x.Graph(), x.DType(), cfg.DropoutRate)
	}
	output, _ := attention.Core(ctx, query, key, value,
		1.0/math.Sqrt(float64(headDim)), attnMask, dropoutRate,
		attention.LayoutBSHD, false, wantDecomposed)

	output = Reshape(output, batchSize, seqLen, cfg.EmbedDim)
	return adapters.Dense(ctx, cfg.Adapter, "o_proj", output, true, cfg.EmbedDim)
}

func mlp(ctx *context.Context, cfg Config, x *Node) *Node {
	h := adapters.Dense(ctx, cfg.Adapter, "up_proj", x, true, cfg.FFNDim)
	h = activations.Gelu(h)
	return adapters.Dense(ctx, cfg.Adapter, "down_proj", h, true, cfg.EmbedDim)
}

func layerNorm(ctx *context.Context, cfg Config, x *Node) *Node {
	normed := layers.LayerNormalization(ctx, x, -1).Epsilon(cfg.NormEpsilon).Done()
	freezeInScope(ctx.In("layer_normalization"), "gain", "offset")
	return normed
}

func freezeInScope(ctx *context.Context, names ...string) {
	for _, name := range names {
		if v := ctx.InspectVariableInScope(name); v != nil {
			v.SetTrainable(false)
		}
	}
}
