package linearschedule_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaehyeokLee-119/surveytune/linearschedule"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestLinearSchedule(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const baseLearningRate = 1.0

	// wantFraction is the linear warmup/decay ratio at 0-based step ii.
	wantFraction := func(ii, warmUpSteps, totalSteps int) float64 {
		if ii < warmUpSteps {
			return float64(ii) / float64(warmUpSteps)
		}
		fraction := float64(totalSteps-ii) / float64(totalSteps-warmUpSteps)
		return max(fraction, 0)
	}

	t.Run("no warmup", func(t *testing.T) {
		const totalSteps = 100
		ctx := context.New().Checked(false)
		scheduleExec, err := context.NewExec(backend, ctx, func(ctx *context.Context, graph *Graph) *Node {
			ctx.SetTraining(graph, true)
			linearschedule.New(ctx, graph, dtypes.Float32).
				TotalSteps(totalSteps).
				LearningRate(baseLearningRate).
				Done()
			return optimizers.LearningRateVar(ctx, dtypes.Float32, 1e3).ValueGraph(graph)
		})
		require.NoError(t, err)

		for ii := range totalSteps + 20 {
			lrT, err := scheduleExec.Exec1()
			require.NoErrorf(t, err, "failed for step %d", ii)

			// Checks the schedule keeps its own step counter.
			stepVar := ctx.GetVariableByScopeAndName(
				fmt.Sprintf("/%s/%s", optimizers.Scope, linearschedule.Scope),
				optimizers.GlobalStepVariableName,
			)
			require.NotNilf(t, stepVar, "step counter not created in scope %q",
				"/"+optimizers.Scope+"/"+linearschedule.Scope)
			assert.Equal(t, int64(ii+1), stepVar.MustValue().Value().(int64))

			lr := tensors.ToScalar[float32](lrT)
			wantLR := wantFraction(ii, 0, totalSteps) * baseLearningRate
			require.InDeltaf(t, float32(wantLR), lr, 1e-4, "step=%d", ii)
		}
	})

	t.Run("with warmup", func(t *testing.T) {
		const warmUpSteps = 10
		const totalSteps = 110
		ctx := context.New().Checked(false)
		scheduleExec, err := context.NewExec(backend, ctx, func(ctx *context.Context, graph *Graph) *Node {
			ctx.SetTraining(graph, true)
			linearschedule.New(ctx, graph, dtypes.Float32).
				TotalSteps(totalSteps).
				WarmUpSteps(warmUpSteps).
				LearningRate(baseLearningRate).
				Done()
			return optimizers.LearningRateVar(ctx, dtypes.Float32, 1e3).ValueGraph(graph)
		})
		require.NoError(t, err)

		for ii := range totalSteps + 10 {
			lrT, err := scheduleExec.Exec1()
			require.NoErrorf(t, err, "failed for step %d", ii)
			lr := tensors.ToScalar[float32](lrT)
			wantLR := wantFraction(ii, warmUpSteps, totalSteps) * baseLearningRate
			require.InDeltaf(t, float32(wantLR), lr, 1e-4, "step=%d", ii)

			// Anchor points: 0 at step 0, peak at the end of warmup, 0 from
			// the final step on.
			switch ii {
			case 0:
				assert.Zero(t, lr)
			case warmUpSteps:
				assert.InDelta(t, float32(baseLearningRate), lr, 1e-4)
			case totalSteps:
				assert.Zero(t, lr)
			}
		}
	})

	t.Run("context configuration", func(t *testing.T) {
		const warmUpSteps = 10
		const totalSteps = 110
		ctx := context.New().Checked(false)
		ctx.SetParam(optimizers.ParamLearningRate, baseLearningRate)
		ctx.SetParam(linearschedule.ParamTotalSteps, totalSteps)
		ctx.SetParam(linearschedule.ParamWarmUpSteps, warmUpSteps)
		scheduleExec, err := context.NewExec(backend, ctx, func(ctx *context.Context, graph *Graph) *Node {
			ctx.SetTraining(graph, true)
			linearschedule.New(ctx, graph, dtypes.Float32).FromContext().Done()
			return optimizers.LearningRateVar(ctx, dtypes.Float32, 1e3).ValueGraph(graph)
		})
		require.NoError(t, err)

		for ii := range totalSteps {
			lrT, err := scheduleExec.Exec1()
			require.NoErrorf(t, err, "failed for step %d", ii)
			lr := tensors.ToScalar[float32](lrT)
			wantLR := wantFraction(ii, warmUpSteps, totalSteps) * baseLearningRate
			require.InDeltaf(t, float32(wantLR), lr, 1e-4, "step=%d", ii)
		}
	})

	t.Run("disabled without total steps", func(t *testing.T) {
		ctx := context.New().Checked(false)
		scheduleExec, err := context.NewExec(backend, ctx, func(ctx *context.Context, graph *Graph) *Node {
			ctx.SetTraining(graph, true)
			linearschedule.New(ctx, graph, dtypes.Float32).FromContext().Done()
			return optimizers.LearningRateVar(ctx, dtypes.Float32, 1e3).ValueGraph(graph)
		})
		require.NoError(t, err)

		lrT, err := scheduleExec.Exec1()
		require.NoError(t, err)
		assert.Equal(t, float32(1e3), tensors.ToScalar[float32](lrT))
	})
}
