// surveytune fine-tunes a causal LM adapter to argue in line with a target
// population's survey answer distribution.
//
// Usage:
//
//	surveytune --target=Nigeria --model=gpt2-chat --strategy=survey
//	surveytune --target=Germany --model=gpt2 --epochs=5 --lr=2e-5
//
// Training resumes from the latest adapter snapshot of the previous stage
// under --ckpt-root and writes improved snapshots next to it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/gomlx/backends"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/JaehyeokLee-119/surveytune"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagTarget    = flag.String("target", "", "Target population whose answer distribution conditions the prompts.")
	flagModel     = flag.String("model", "", "Model lineage name under the checkpoint root, e.g. \"gpt2-chat\".")
	flagBaseModel = flag.String("base-model", "", "Override the base model recorded in the resumed adapter metadata.")
	flagStrategy  = flag.String("strategy", "survey", "Strategy tag for the output snapshot lineage.")
	flagThreshold = flag.Int("threshold", 5, "Filtering threshold of the previous stage to resume from.")

	flagDataDir       = flag.String("data", "data", "Directory holding train.csv and valid.csv (tab-separated).")
	flagDistributions = flag.String("distributions", "data/distributions.tsv", "Tab-separated answer distribution table.")
	flagCkptRoot      = flag.String("ckpt-root", "ckpt", "Root directory of the snapshot lineages.")

	flagLR        = flag.Float64("lr", 5e-5, "Peak learning rate; decays linearly to 0 over the run.")
	flagEpochs    = flag.Int("epochs", 3, "Number of train/validate epochs.")
	flagBatchSize = flag.Int("batch-size", 4, "Batch size for training and validation.")
	flagSeed      = flag.Int64("seed", 42, "Seed for shuffling and initialization.")

	flagPromptStyle = flag.String("prompt-style", "auto", "Prompt style: auto, plain or chat.")
	flagAttention   = flag.String("attention", "auto", "Attention implementation: auto, fused or decomposed.")
	flagMetrics     = flag.String("metrics", "", "Optional JSONL file receiving step and epoch metrics.")
	flagBackend     = flag.String("backend", "", "Backend to use (default: auto-detect).")
	flagQuiet       = flag.Bool("quiet", false, "Disable per-batch progress bars.")
	flagSet         = flag.String("set", "",
		"Context hyperparameter overrides as \"param=value\" pairs separated by \";\", "+
			"e.g. \"optimizer=adamw;linear_schedule_warmup_steps=100\".")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagBackend != "" {
		must.M(os.Setenv("GOMLX_BACKEND", *flagBackend))
	}

	cfg := &surveytune.Config{
		TargetName:        *flagTarget,
		ModelName:         *flagModel,
		BaseModelOverride: *flagBaseModel,
		Strategy:          *flagStrategy,
		Threshold:         *flagThreshold,
		DataDir:           *flagDataDir,
		DistributionFile:  *flagDistributions,
		CheckpointRoot:    *flagCkptRoot,
		LearningRate:      *flagLR,
		NumEpochs:         *flagEpochs,
		BatchSize:         *flagBatchSize,
		Seed:              *flagSeed,
		PromptStyle:       *flagPromptStyle,
		AttentionImpl:     *flagAttention,
		MetricsFile:       *flagMetrics,
		ShowProgress:      !*flagQuiet,
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid flags: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	backend := backends.MustNew()
	ctx := surveytune.CreateDefaultContext(cfg)
	if err := surveytune.ApplySettings(ctx, *flagSet); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --set: %v\n", err)
		os.Exit(2)
	}

	best, err := surveytune.Run(backend, ctx, cfg)
	if err != nil {
		klog.Fatalf("Training failed: %+v", err)
	}
	fmt.Printf("Best validation loss: %.5f\n", best)
}
