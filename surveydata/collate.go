package surveydata

// sequence is one tokenized example. promptLen counts the leading tokens
// (instruction span) that are excluded from the loss.
type sequence struct {
	ids       []int32
	promptLen int
}

// Batch is a collated group of sequences, padded to the longest one.
//
// InputIDs and AttentionMask are the model inputs, Labels and LossMask the
// loss targets. Labels are already shifted: position i holds the token at
// i+1, so the model is trained to predict the next token. LossMask is true
// only where the predicted token belongs to the completion span, which
// excludes both the prompt and the padding.
type Batch struct {
	InputIDs      [][]int32
	AttentionMask [][]bool
	Labels        [][][]int32
	LossMask      [][]bool
}

// MaxLen returns the padded sequence length of the batch.
func (b *Batch) MaxLen() int {
	if len(b.InputIDs) == 0 {
		return 0
	}
	return len(b.InputIDs[0])
}

func collate(seqs []sequence, padID int32) *Batch {
	maxLen := 0
	for _, seq := range seqs {
		if len(seq.ids) > maxLen {
			maxLen = len(seq.ids)
		}
	}
	batch := &Batch{
		InputIDs:      make([][]int32, len(seqs)),
		AttentionMask: make([][]bool, len(seqs)),
		Labels:        make([][][]int32, len(seqs)),
		LossMask:      make([][]bool, len(seqs)),
	}
	for ii, seq := range seqs {
		ids := make([]int32, maxLen)
		attention := make([]bool, maxLen)
		labels := make([][]int32, maxLen)
		lossMask := make([]bool, maxLen)
		for pos := 0; pos < maxLen; pos++ {
			if pos < len(seq.ids) {
				ids[pos] = seq.ids[pos]
				attention[pos] = true
			} else {
				ids[pos] = padID
			}
			next := pos + 1
			if next < len(seq.ids) {
				labels[pos] = []int32{seq.ids[next]}
				lossMask[pos] = next >= seq.promptLen
			} else {
				labels[pos] = []int32{padID}
			}
		}
		batch.InputIDs[ii] = ids
		batch.AttentionMask[ii] = attention
		batch.Labels[ii] = labels
		batch.LossMask[ii] = lossMask
	}
	return batch
}
