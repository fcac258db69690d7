package surveytune

import (
	"fmt"
	"io"
	"math"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/JaehyeokLee-119/surveytune/tracker"
)

// batchStepper is the subset of *train.Trainer the loop uses, split out so
// the checkpoint policy and nan-guard can be exercised without a backend.
type batchStepper interface {
	TrainStep(spec any, inputs, labels []*tensors.Tensor) ([]*tensors.Tensor, error)
	EvalStep(spec any, inputs, labels []*tensors.Tensor) ([]*tensors.Tensor, error)
}

// RunState is the loop's mutable state. It is local to one Run call, so
// concurrent sweep runs in the same process stay isolated. BestLoss starts
// at +Inf and is never seeded from the resumed snapshot's history.
type RunState struct {
	Epoch    int
	BestLoss float64
}

// Loop runs the train/validate epoch cycle and persists the adapter
// whenever the mean validation loss improves.
type Loop struct {
	Stepper      batchStepper
	Train, Valid train.Dataset
	Epochs       int

	// SaveFn persists the adapter snapshot for a 1-based epoch number.
	SaveFn func(epoch int) error

	// Tracker receives per-step and per-epoch metrics. Defaults to the
	// no-op tracker.
	Tracker tracker.Tracker

	// ShowProgress attaches a per-phase progress bar with the live batch
	// loss, like the interactive trainers do.
	ShowProgress bool
}

// Run executes the configured number of epochs and returns the best mean
// validation loss seen. There is no early stopping: every epoch runs, and a
// snapshot is written only on strict improvement.
func (l *Loop) Run() (float64, error) {
	if l.Stepper == nil || l.Train == nil || l.Valid == nil || l.SaveFn == nil {
		return 0, errors.New("training loop is missing a stepper, datasets or a save function")
	}
	if l.Epochs <= 0 {
		return 0, errors.Errorf("invalid number of epochs %d", l.Epochs)
	}
	if l.Tracker == nil {
		l.Tracker = tracker.Nop()
	}

	state := RunState{BestLoss: math.Inf(1)}
	for epoch := 1; epoch <= l.Epochs; epoch++ {
		state.Epoch = epoch

		trainLoss, err := l.runPhase(&state, tracker.PhaseTrain)
		if err != nil {
			return 0, err
		}
		validLoss, err := l.runPhase(&state, tracker.PhaseValidation)
		if err != nil {
			return 0, err
		}

		improved := validLoss < state.BestLoss
		if improved {
			state.BestLoss = validLoss
			if err = l.SaveFn(epoch); err != nil {
				return 0, err
			}
		}
		l.logEpoch(state, trainLoss, validLoss, improved)
	}
	return state.BestLoss, nil
}

// runPhase iterates one full pass over the phase's dataset and returns the
// mean batch loss.
func (l *Loop) runPhase(state *RunState, phase tracker.Phase) (float64, error) {
	ds := l.Train
	step := l.Stepper.TrainStep
	description := "Training"
	if phase == tracker.PhaseValidation {
		ds = l.Valid
		step = l.Stepper.EvalStep
		description = "Validation"
	}

	var bar *progressbar.ProgressBar
	if l.ShowProgress {
		bar = newPhaseBar(description)
	}

	ds.Reset()
	var total float64
	var numBatches int
	for {
		spec, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.WithMessagef(err, "%s dataset failed at epoch %d", ds.Name(), state.Epoch)
		}
		metrics, err := step(spec, inputs, labels)
		if err != nil {
			return 0, errors.WithMessagef(err, "%s step failed at epoch %d batch %d", description, state.Epoch, numBatches)
		}
		loss, err := scalarLoss(metrics)
		if err != nil {
			return 0, err
		}
		loss = l.nanGuard(loss, state.Epoch, phase)
		total += loss

		if errTracker := l.Tracker.LogStep(tracker.StepRecord{
			Epoch: state.Epoch, Phase: phase, Step: numBatches, Loss: loss,
		}); errTracker != nil {
			klog.Warningf("Failed to record %s step metrics: %v", phase, errTracker)
		}
		if bar != nil {
			bar.Describe(fmt.Sprintf("%s loss: %.5f", description, loss))
			_ = bar.Add(1)
		}
		numBatches++
		finalizeAll(inputs, labels, metrics)
	}
	if bar != nil {
		_ = bar.Close()
	}
	if numBatches == 0 {
		return 0, errors.Errorf("%s dataset %q yielded no batches", description, ds.Name())
	}
	return total / float64(numBatches), nil
}

// nanGuard substitutes exactly 0 for a non-finite batch loss, so one bad
// batch cannot poison the epoch mean, and reports the event.
func (l *Loop) nanGuard(loss float64, epoch int, phase tracker.Phase) float64 {
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		klog.Warningf("Non-finite %s loss (%v) at epoch %d, substituting 0", phase, loss, epoch)
		return 0
	}
	return loss
}

// scalarLoss extracts the batch loss, the first metric a trainer step
// returns.
func scalarLoss(metrics []*tensors.Tensor) (float64, error) {
	if len(metrics) == 0 {
		return 0, errors.New("trainer step returned no metrics")
	}
	switch value := metrics[0].Value().(type) {
	case float32:
		return float64(value), nil
	case float64:
		return value, nil
	}
	return 0, errors.Errorf("batch loss has unexpected type %s", metrics[0].DType())
}

// finalizeAll releases the batch's tensor buffers. Datasets build fresh
// tensors every Yield, so nothing holds references to these.
func finalizeAll(tensorLists ...[]*tensors.Tensor) {
	for _, list := range tensorLists {
		for _, t := range list {
			t.MustFinalizeAll()
		}
	}
}

func newPhaseBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII))
}

var (
	epochStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")).PaddingLeft(1)
	savedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#02BF87"))
)

func (l *Loop) logEpoch(state RunState, trainLoss, validLoss float64, improved bool) {
	line := fmt.Sprintf("epoch %d/%d: train loss %.5f, validation loss %.5f, best %.5f",
		state.Epoch, l.Epochs, trainLoss, validLoss, state.BestLoss)
	if improved {
		line += savedStyle.Render(" (snapshot saved)")
	}
	fmt.Println(epochStyle.Render(line))

	if err := l.Tracker.LogEpoch(tracker.EpochRecord{
		Epoch:     state.Epoch,
		TrainLoss: trainLoss,
		ValidLoss: validLoss,
		BestLoss:  state.BestLoss,
		Saved:     improved,
	}); err != nil {
		klog.Warningf("Failed to record epoch metrics: %v", err)
	}
}
