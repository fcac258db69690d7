// Package linearschedule implements a linear warmup plus linear decay
// schedule for the learning rate: the rate ramps from 0 to the configured
// learning rate over the warmup steps, then decays linearly to 0 at the last
// training step.
//
// Call `New(ctx, g, dtype).FromContext().Done()` at the start of the model
// graph; it only takes effect while training.
package linearschedule

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

var (
	// ParamTotalSteps is the total number of training steps the decay spans,
	// usually the number of training batches times the number of epochs.
	//
	//   - 0 disables the schedule (default).
	//   - A positive value enables it.
	//
	// Requires calling `New().FromContext().Done()` at the start of your model.
	ParamTotalSteps = "linear_schedule_steps"

	// ParamWarmUpSteps is the number of initial steps during which the
	// learning rate linearly increases from 0 to ParamLearningRate.
	// Defaults to 0, meaning no warmup.
	ParamWarmUpSteps = "linear_schedule_warmup_steps"
)

// Scope is the sub-scope under the optimizers scope that holds the
// schedule's step counter.
const Scope = "linear_schedule"

// Config of the linear schedule. New creates it, and once configured, call
// Config.Done to add it to the computation graph.
type Config struct {
	graph        *Graph
	ctx          *context.Context
	dtype        dtypes.DType
	learningRate float64
	totalSteps   int
	warmUpSteps  int
}

// New creates a configuration for a linear warmup/decay learning rate
// schedule. Configure it and call Done to generate the graph code that
// updates the learning rate at every training step.
func New(ctx *context.Context, graph *Graph, dtype dtypes.DType) *Config {
	return &Config{
		ctx:   ctx,
		graph: graph,
		dtype: dtype,
	}
}

// FromContext configures the schedule from the context hyperparameters
// [ParamTotalSteps] and [ParamWarmUpSteps].
func (opt *Config) FromContext() *Config {
	opt.totalSteps = context.GetParamOr(opt.ctx, ParamTotalSteps, 0)
	opt.warmUpSteps = context.GetParamOr(opt.ctx, ParamWarmUpSteps, 0)
	opt.learningRate = context.GetParamOr(opt.ctx, optimizers.ParamLearningRate, 0.0)
	return opt
}

// TotalSteps sets the step at which the learning rate reaches 0. If 0, the
// schedule is silently disabled.
func (opt *Config) TotalSteps(totalSteps int) *Config {
	opt.totalSteps = totalSteps
	return opt
}

// WarmUpSteps sets the number of warmup steps. Defaults to 0.
func (opt *Config) WarmUpSteps(warmUpSteps int) *Config {
	opt.warmUpSteps = warmUpSteps
	return opt
}

// LearningRate sets the peak learning rate. If not given, it is read from
// the context params (keyed by optimizers.ParamLearningRate).
func (opt *Config) LearningRate(learningRate float64) *Config {
	opt.learningRate = learningRate
	return opt
}

// Done finalizes the configuration and generates the computation graph code
// that implements the schedule.
func (opt *Config) Done() {
	ctx := opt.ctx.Checked(false)
	graph := opt.graph

	if !ctx.IsTraining(graph) || opt.totalSteps == 0 {
		return
	}
	if opt.totalSteps < 0 || opt.warmUpSteps < 0 || opt.warmUpSteps >= opt.totalSteps {
		exceptions.Panicf("linearschedule: invalid configuration, need 0 <= warmup steps (%d) < total steps (%d)",
			opt.warmUpSteps, opt.totalSteps)
	}

	lrValue := opt.learningRate
	if lrValue == 0 {
		lrValue = context.GetParamOr(opt.ctx, optimizers.ParamLearningRate, 0.0)
		if lrValue == 0 {
			exceptions.Panicf("learning rate not configured for linearschedule and also "+
				"not set in the context as parameter %q", optimizers.ParamLearningRate)
		}
	}

	// The schedule keeps its own step counter, independent of the
	// optimizer's global step.
	step := optimizers.IncrementGlobalStepGraph(ctx.In(optimizers.Scope).In(Scope), graph, opt.dtype)
	step = MinusOne(step) // The counter starts at 1.

	decaySpan := float64(opt.totalSteps - opt.warmUpSteps)
	remaining := AddScalar(Neg(step), float64(opt.totalSteps))
	fraction := DivScalar(remaining, decaySpan)
	if opt.warmUpSteps > 0 {
		warmup := DivScalar(step, float64(opt.warmUpSteps))
		fraction = Where(LessThan(step, Scalar(graph, opt.dtype, float64(opt.warmUpSteps))),
			warmup, fraction)
	}
	fraction = MaxScalar(fraction, 0)
	lr := MulScalar(fraction, lrValue)

	lrVar := optimizers.LearningRateVarWithValue(ctx, opt.dtype, lrValue)
	lrVar.SetValueGraph(lr)
}
