// Package adapters implements low-rank adaptation (LoRA) of dense layers,
// together with resuming and persisting adapter snapshots.
//
// Adapter variables live in a "lora" sub-scope of the layer they adapt. All
// other variables are the frozen base model: they take part in the forward
// pass but receive no gradient updates, and they are excluded from adapter
// snapshots.
package adapters

import (
	"strings"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

// Scope is the variable sub-scope that holds adapter variables.
const Scope = "lora"

// Config describes the shape of a LoRA adapter.
type Config struct {
	// Rank of the low-rank decomposition.
	Rank int

	// Alpha is the adapter scaling numerator: the delta is scaled by
	// Alpha/Rank.
	Alpha float64

	// TargetModules lists the layer names that receive adapters, e.g.
	// "q_proj". Layers not listed get a plain frozen dense layer.
	TargetModules []string
}

// Scaling returns the multiplier applied to the adapter delta.
func (c Config) Scaling() float64 {
	if c.Rank <= 0 {
		return 0
	}
	return c.Alpha / float64(c.Rank)
}

// Matches reports whether the named layer is a target module.
func (c Config) Matches(name string) bool {
	for _, target := range c.TargetModules {
		if target == name {
			return true
		}
	}
	return false
}

// Dense is a dense layer with an optional LoRA adapter, for inputs shaped
// [batch, seq, dim]. The base projection is created frozen; when name is a
// target module, trainable lora_a/lora_b matrices are added and their
// low-rank delta, scaled by Alpha/Rank, is summed into the output.
func Dense(ctx *context.Context, cfg Config, name string, input *Node, useBias bool, outputDim int) *Node {
	g := input.Graph()
	ctxLayer := ctx.In(name)
	output := layers.Dense(ctxLayer, input, useBias, outputDim)
	// layers.Dense scopes its variables under "dense".
	ctxDense := ctxLayer.In("dense")
	for _, varName := range []string{"weights", "biases"} {
		if v := ctxDense.InspectVariableInScope(varName); v != nil {
			v.SetTrainable(false)
		}
	}
	if !cfg.Matches(name) || cfg.Rank <= 0 {
		return output
	}

	dtype := input.DType()
	inputDim := input.Shape().Dim(-1)
	ctxLora := ctxLayer.In(Scope)
	loraA := ctxLora.WithInitializer(initializers.RandomNormalFn(ctxLora, 1.0/float64(cfg.Rank))).
		VariableWithShape("lora_a", shapes.Make(dtype, inputDim, cfg.Rank))
	// lora_b starts at zero so a fresh adapter is a no-op.
	loraB := ctxLora.WithInitializer(initializers.Zero).
		VariableWithShape("lora_b", shapes.Make(dtype, cfg.Rank, outputDim))

	down := Einsum("bsi,ir->bsr", input, loraA.ValueGraph(g))
	delta := Einsum("bsr,ro->bso", down, loraB.ValueGraph(g))
	return Add(output, MulScalar(delta, cfg.Scaling()))
}

// IsAdapterVariable reports whether v lives in an adapter scope. Optimizer
// state mirrors the scope of the variable it tracks, so anything under the
// optimizer scopes counts as base even when its path mentions the adapter.
func IsAdapterVariable(v *context.Variable) bool {
	scope := v.Scope()
	for _, optScope := range []string{optimizers.Scope, optimizers.AdamDefaultScope} {
		if strings.HasPrefix(scope, context.ScopeSeparator+optScope) {
			return false
		}
	}
	return strings.HasSuffix(scope, context.ScopeSeparator+Scope) ||
		strings.Contains(scope, context.ScopeSeparator+Scope+context.ScopeSeparator)
}

// FreezeBase marks every variable outside the adapter scopes as
// non-trainable. Call it after base weights are loaded and before training,
// so the only gradients computed are the adapter's.
func FreezeBase(ctx *context.Context) (frozen int) {
	for v := range ctx.IterVariables() {
		if IsAdapterVariable(v) {
			continue
		}
		if v.Trainable {
			v.SetTrainable(false)
			frozen++
		}
	}
	return
}

// AdapterVariables returns the adapter variables in ctx.
func AdapterVariables(ctx *context.Context) []*context.Variable {
	var vars []*context.Variable
	for v := range ctx.IterVariables() {
		if IsAdapterVariable(v) {
			vars = append(vars, v)
		}
	}
	return vars
}

// BaseVariables returns every variable in ctx that is not part of the
// adapter, including optimizer state and the global step.
func BaseVariables(ctx *context.Context) []*context.Variable {
	var vars []*context.Variable
	for v := range ctx.IterVariables() {
		if !IsAdapterVariable(v) {
			vars = append(vars, v)
		}
	}
	return vars
}
