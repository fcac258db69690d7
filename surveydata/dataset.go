// Package surveydata loads the argument-generation splits and turns them
// into batched tensors for training.
//
// The pipeline is: tab-separated split files -> prompt/completion rendering
// (with the target distribution embedded) -> tokenization -> per-batch
// collation with padding, attention mask and a loss mask over the completion
// span.
package surveydata

import (
	"io"
	"math/rand/v2"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Tokenizer is the subset of the HuggingFace tokenizer API the pipeline
// needs. *tokenizers.Tokenizer values returned by go-huggingface satisfy it.
type Tokenizer interface {
	Encode(text string) []int
}

// SpecialTokenSource is the part of the tokenizer API that resolves special
// token ids. api.Tokenizer values satisfy it.
type SpecialTokenSource interface {
	SpecialTokenID(token api.SpecialToken) (int, error)
}

// Options configures a Dataset.
type Options struct {
	BatchSize int
	PadID     int32
	// BOSID and EOSID are prepended/appended to each sequence when >= 0.
	BOSID int32
	EOSID int32
	// Shuffle reorders examples with a Seed-derived RNG, reshuffling on
	// every Reset. Validation datasets leave it off.
	Shuffle bool
	Seed    int64
}

// SpecialIDs resolves the pad, begin- and end-of-sequence ids from a full
// tokenizer. The pad id falls back to the end-of-sequence id when the
// tokenizer defines no pad token. Missing BOS/EOS are reported as -1.
func SpecialIDs(tok SpecialTokenSource) (padID, bosID, eosID int32, err error) {
	bosID, eosID = -1, -1
	if id, errTok := tok.SpecialTokenID(api.TokBeginningOfSentence); errTok == nil {
		bosID = int32(id)
	}
	if id, errTok := tok.SpecialTokenID(api.TokEndOfSentence); errTok == nil {
		eosID = int32(id)
	}
	if id, errTok := tok.SpecialTokenID(api.TokPad); errTok == nil {
		return int32(id), bosID, eosID, nil
	}
	if eosID < 0 {
		return 0, 0, 0, errors.New("tokenizer defines neither a pad token nor an end-of-sequence token to fall back on")
	}
	return eosID, bosID, eosID, nil
}

// Dataset implements train.Dataset, yielding one collated batch per call.
// It tokenizes all examples eagerly at construction.
type Dataset struct {
	name      string
	sequences []sequence
	order     []int
	opts      Options
	rng       *rand.Rand
	next      int
}

// NewDataset builds a Dataset from examples rendered by the formatter and
// tokenized by tok.
func NewDataset(name string, tok Tokenizer, formatter *Formatter, examples []Example, opts Options) *Dataset {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	ds := &Dataset{
		name:      name,
		sequences: make([]sequence, 0, len(examples)),
		order:     make([]int, len(examples)),
		opts:      opts,
	}
	for ii, example := range examples {
		ds.sequences = append(ds.sequences, encodeExample(tok, formatter, example, opts))
		ds.order[ii] = ii
	}
	if opts.Shuffle {
		ds.rng = rand.New(rand.NewPCG(uint64(opts.Seed), 0))
		ds.shuffle()
	}
	return ds
}

func encodeExample(tok Tokenizer, formatter *Formatter, example Example, opts Options) sequence {
	promptIDs := tok.Encode(formatter.Prompt(example.Text))
	completionIDs := tok.Encode(formatter.Completion(example.Label))

	ids := make([]int32, 0, len(promptIDs)+len(completionIDs)+2)
	if opts.BOSID >= 0 {
		ids = append(ids, opts.BOSID)
	}
	for _, id := range promptIDs {
		ids = append(ids, int32(id))
	}
	promptLen := len(ids)
	for _, id := range completionIDs {
		ids = append(ids, int32(id))
	}
	if opts.EOSID >= 0 {
		ids = append(ids, opts.EOSID)
	}
	return sequence{ids: ids, promptLen: promptLen}
}

func (ds *Dataset) shuffle() {
	ds.rng.Shuffle(len(ds.order), func(i, j int) {
		ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
	})
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// NumExamples returns the number of examples in the dataset.
func (ds *Dataset) NumExamples() int { return len(ds.sequences) }

// NumBatches returns the number of batches one epoch yields. The last batch
// may be partial.
func (ds *Dataset) NumBatches() int {
	return (len(ds.sequences) + ds.opts.BatchSize - 1) / ds.opts.BatchSize
}

// Reset implements train.Dataset, starting a new epoch. Shuffling datasets
// are reordered.
func (ds *Dataset) Reset() {
	ds.next = 0
	if ds.opts.Shuffle {
		ds.shuffle()
	}
}

// Yield implements train.Dataset. It returns the next collated batch as
// device-ready tensors:
//
//	inputs: ids (int32 [batch, len]), attention mask (bool [batch, len])
//	labels: next-token ids (int32 [batch, len, 1]), loss mask (bool [batch, len])
//
// The loss mask follows the losses package convention of a trailing boolean
// tensor selecting which positions count.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if ds.next >= len(ds.sequences) {
		return nil, nil, nil, io.EOF
	}
	end := min(ds.next+ds.opts.BatchSize, len(ds.sequences))
	seqs := make([]sequence, 0, end-ds.next)
	for _, idx := range ds.order[ds.next:end] {
		seqs = append(seqs, ds.sequences[idx])
	}
	ds.next = end

	batch := collate(seqs, ds.opts.PadID)
	inputs = []*tensors.Tensor{
		tensors.FromValue(batch.InputIDs),
		tensors.FromValue(batch.AttentionMask),
	}
	labels = []*tensors.Tensor{
		tensors.FromValue(batch.Labels),
		tensors.FromValue(batch.LossMask),
	}
	return nil, inputs, labels, nil
}
