package model

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Base-model files, following the HuggingFace repository layout.
const (
	configFile  = "config.json"
	weightsFile = "model.safetensors"
)

// hfConfig is the subset of a HuggingFace GPT-2 family config.json needed to
// shape the transformer.
type hfConfig struct {
	VocabSize        int     `json:"vocab_size"`
	NEmbd            int     `json:"n_embd"`
	NHead            int     `json:"n_head"`
	NLayer           int     `json:"n_layer"`
	NPositions       int     `json:"n_positions"`
	NInner           int     `json:"n_inner"`
	LayerNormEpsilon float64 `json:"layer_norm_epsilon"`
}

func (hf hfConfig) toConfig() Config {
	ffnDim := hf.NInner
	if ffnDim <= 0 {
		ffnDim = 4 * hf.NEmbd
	}
	return Config{
		VocabSize:   hf.VocabSize,
		ContextLen:  hf.NPositions,
		EmbedDim:    hf.NEmbd,
		NumHeads:    hf.NHead,
		NumLayers:   hf.NLayer,
		FFNDim:      ffnDim,
		NormEpsilon: hf.LayerNormEpsilon,
		DType:       dtypes.Float32,
	}
}

// LoadBase loads the base model's configuration and frozen weights into ctx.
// nameOrPath is either a local directory holding config.json and
// model.safetensors, or a HuggingFace repository id, in which case the files
// are downloaded (and cached) first.
//
// The returned Config still needs the Attention and Adapter fields filled by
// the caller.
func LoadBase(ctx *context.Context, nameOrPath string) (Config, error) {
	configPath := filepath.Join(nameOrPath, configFile)
	weightsPath := filepath.Join(nameOrPath, weightsFile)
	if _, err := os.Stat(configPath); err != nil {
		// Not a local directory: treat as a hub repository.
		repo := hub.New(nameOrPath).WithProgressBar(true)
		if err = repo.DownloadInfo(false); err != nil {
			return Config{}, errors.Wrapf(err, "failed to resolve base model repository %q", nameOrPath)
		}
		configPath, err = repo.DownloadFile(configFile)
		if err != nil {
			return Config{}, errors.Wrapf(err, "failed to download %s for %q", configFile, nameOrPath)
		}
		weightsPath, err = repo.DownloadFile(weightsFile)
		if err != nil {
			return Config{}, errors.Wrapf(err, "failed to download %s for %q", weightsFile, nameOrPath)
		}
	}

	cfg, err := readConfig(configPath)
	if err != nil {
		return Config{}, err
	}
	loaded, err := loadSafetensors(ctx, cfg, weightsPath)
	if err != nil {
		return Config{}, err
	}
	klog.V(1).Infof("Loaded %d base weight tensors for %s", loaded, nameOrPath)
	return cfg, nil
}

func readConfig(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read base model config %q", path)
	}
	var hf hfConfig
	if err = json.Unmarshal(contents, &hf); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse base model config %q", path)
	}
	cfg := hf.toConfig()
	if err = cfg.Validate(); err != nil {
		return Config{}, errors.WithMessagef(err, "base model config %q", path)
	}
	return cfg, nil
}
