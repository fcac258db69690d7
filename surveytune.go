// Package surveytune fine-tunes a causal language model, through a low-rank
// adapter, to generate arguments conditioned on how a named population
// answered a survey question. The target population's 10-point answer
// distribution is embedded into every training prompt.
//
// Training always resumes from an adapter snapshot produced by a previous
// stage; there is no cold start. Each epoch trains over the argument split
// and validates, and the adapter is snapshotted whenever the mean validation
// loss improves.
package surveytune

import (
	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/JaehyeokLee-119/surveytune/adapters"
	"github.com/JaehyeokLee-119/surveytune/distributions"
	"github.com/JaehyeokLee-119/surveytune/linearschedule"
	"github.com/JaehyeokLee-119/surveytune/model"
	"github.com/JaehyeokLee-119/surveytune/surveydata"
	"github.com/JaehyeokLee-119/surveytune/tracker"
)

// Config selects the run's lineage coordinates and hyperparameters. The base
// model is not configured here: it is read from the resumed adapter's
// metadata, with BaseModelOverride as an escape hatch.
type Config struct {
	// TargetName is the population (country or demographic group) whose
	// answer distribution conditions the prompts, and the lineage directory
	// the adapter snapshots live under.
	TargetName string

	// ModelName names the model lineage under the checkpoint root, e.g.
	// "gpt2" or "gpt2-chat". A chat-tagged name selects the chat prompt
	// style unless PromptStyle overrides it.
	ModelName string

	// BaseModelOverride, when non-empty, replaces the base model recorded in
	// the resumed adapter's metadata.
	BaseModelOverride string

	// Strategy tags the output lineage, distinguishing runs that share the
	// same model and threshold.
	Strategy string

	// Threshold is the filtering threshold of the previous stage; it selects
	// which of its snapshots to resume from.
	Threshold int

	DataDir          string // directory holding train.csv and valid.csv
	DistributionFile string // tab-separated table of answer distributions
	CheckpointRoot   string // root of the snapshot lineages

	LearningRate float64
	NumEpochs    int
	BatchSize    int
	Seed         int64

	// PromptStyle is "plain", "chat" or "" / "auto" to derive from ModelName.
	PromptStyle string

	// AttentionImpl is "fused", "decomposed" / "eager", or "" / "auto" to
	// derive from the base model's family.
	AttentionImpl string

	// MetricsFile, when non-empty, receives per-step and per-epoch metrics
	// as JSON lines.
	MetricsFile string

	ShowProgress bool
}

// Validate checks the configuration is complete enough to run.
func (cfg *Config) Validate() error {
	switch {
	case cfg.TargetName == "":
		return errors.New("no target population configured")
	case cfg.ModelName == "":
		return errors.New("no model name configured")
	case cfg.Strategy == "":
		return errors.New("no strategy configured")
	case cfg.DataDir == "":
		return errors.New("no data directory configured")
	case cfg.DistributionFile == "":
		return errors.New("no distribution table configured")
	case cfg.CheckpointRoot == "":
		return errors.New("no checkpoint root configured")
	case cfg.LearningRate <= 0:
		return errors.Errorf("invalid learning rate %g", cfg.LearningRate)
	case cfg.NumEpochs <= 0:
		return errors.Errorf("invalid number of epochs %d", cfg.NumEpochs)
	case cfg.BatchSize <= 0:
		return errors.Errorf("invalid batch size %d", cfg.BatchSize)
	}
	return nil
}

// CreateDefaultContext creates a context with the run's hyperparameters set.
// Individual parameters can still be overridden from the command line before
// training starts.
func CreateDefaultContext(cfg *Config) *context.Context {
	ctx := context.New()
	ctx.SetRNGStateFromSeed(cfg.Seed)
	ctx.SetParams(map[string]any{
		optimizers.ParamOptimizer:       "adamw",
		optimizers.ParamLearningRate:    cfg.LearningRate,
		optimizers.ParamClipNaN:         true,
		linearschedule.ParamWarmUpSteps: 0,
	})
	return ctx
}

// Run executes the full fine-tuning stage and returns the best mean
// validation loss. ctx should come from CreateDefaultContext, possibly with
// parameters overridden.
func Run(backend backends.Backend, ctx *context.Context, cfg *Config) (float64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	table, err := distributions.ReadFile(cfg.DistributionFile)
	if err != nil {
		return 0, err
	}
	target, err := table.TargetVector(cfg.TargetName)
	if err != nil {
		return 0, err
	}

	style, err := surveydata.ParseStyle(cfg.PromptStyle, cfg.ModelName)
	if err != nil {
		return 0, err
	}
	formatter := surveydata.NewFormatter(style, target)
	klog.V(1).Infof("Target %s distribution %s, %s prompts", cfg.TargetName, formatter.Target(), style)

	// Resume the adapter first: its metadata names the base model.
	resumeDir := adapters.ResumeDir(cfg.CheckpointRoot, cfg.ModelName, cfg.Threshold, cfg.TargetName)
	metadata, err := adapters.Load(ctx, resumeDir)
	if err != nil {
		return 0, err
	}
	if cfg.BaseModelOverride != "" {
		metadata.BaseModel = cfg.BaseModelOverride
	}

	modelCfg, err := model.LoadBase(ctx.In("model"), metadata.BaseModel)
	if err != nil {
		return 0, err
	}
	modelCfg.Adapter = metadata.Config()
	modelCfg.Attention, err = resolveAttention(cfg.AttentionImpl, metadata.BaseModel, cfg.ModelName)
	if err != nil {
		return 0, err
	}

	tok, err := tokenizers.New(hub.New(metadata.BaseModel))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to load tokenizer for %q", metadata.BaseModel)
	}
	padID, bosID, eosID, err := surveydata.SpecialIDs(tok)
	if err != nil {
		return 0, err
	}

	trainExamples, validExamples, err := surveydata.ReadSplits(cfg.DataDir)
	if err != nil {
		return 0, err
	}
	trainDS := surveydata.NewDataset("train", tok, formatter, trainExamples, surveydata.Options{
		BatchSize: cfg.BatchSize,
		PadID:     padID,
		BOSID:     bosID,
		EOSID:     eosID,
		Shuffle:   true,
		Seed:      cfg.Seed,
	})
	validDS := surveydata.NewDataset("valid", tok, formatter, validExamples, surveydata.Options{
		BatchSize: cfg.BatchSize,
		PadID:     padID,
		BOSID:     bosID,
		EOSID:     eosID,
	})
	klog.V(1).Infof("Loaded %d train and %d validation examples", trainDS.NumExamples(), validDS.NumExamples())

	// The learning rate decays to 0 over exactly the steps this run takes.
	ctx.SetParam(linearschedule.ParamTotalSteps, trainDS.NumBatches()*cfg.NumEpochs)

	modelFn := func(ctx *context.Context, _ any, inputs []*graph.Node) []*graph.Node {
		linearschedule.New(ctx, inputs[0].Graph(), dtypes.Float32).FromContext().Done()
		return model.Forward(ctx.In("model"), modelCfg, inputs)
	}

	// Only the adapter trains. The base weights and positional embeddings
	// are already frozen at creation; this sweep catches anything loaded
	// from the snapshot.
	frozen := adapters.FreezeBase(ctx)
	klog.V(1).Infof("Froze %d base variables", frozen)

	trainer := train.NewTrainer(backend, ctx.Checked(false), modelFn,
		losses.SparseCategoricalCrossEntropyLogits,
		optimizers.FromContext(ctx), nil, nil)

	writer := adapters.NewWriter(ctx, metadata, cfg.CheckpointRoot, cfg.ModelName,
		cfg.Strategy, cfg.Threshold, cfg.TargetName)

	metricsTracker := tracker.Tracker(tracker.Nop())
	if cfg.MetricsFile != "" {
		fileTracker, err := tracker.NewFile(cfg.MetricsFile)
		if err != nil {
			return 0, err
		}
		defer func() {
			if err := fileTracker.Close(); err != nil {
				klog.Warningf("Failed to close metrics file: %v", err)
			}
		}()
		metricsTracker = fileTracker
	}

	loop := &Loop{
		Stepper:      trainer,
		Train:        trainDS,
		Valid:        validDS,
		Epochs:       cfg.NumEpochs,
		SaveFn:       writer.SaveEpoch,
		Tracker:      metricsTracker,
		ShowProgress: cfg.ShowProgress,
	}
	return loop.Run()
}

// resolveAttention picks the attention implementation: an explicit flag wins,
// otherwise the base model's family decides, with the lineage model name as a
// fallback for locally stored base models.
func resolveAttention(flagValue, baseModel, modelName string) (model.AttentionImpl, error) {
	impl, err := model.ParseAttentionImpl(flagValue)
	if err != nil || impl != model.AttentionAuto {
		return impl, err
	}
	if impl = model.AttentionImplForModel(baseModel); impl != model.AttentionAuto {
		return impl, nil
	}
	return model.AttentionImplForModel(modelName), nil
}
