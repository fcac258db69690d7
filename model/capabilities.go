package model

import (
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// AttentionImpl selects how scaled dot-product attention is computed.
type AttentionImpl int

const (
	// AttentionAuto tries the backend's fused attention op and falls back
	// to the decomposed implementation if unavailable.
	AttentionAuto AttentionImpl = iota

	// AttentionFused behaves like AttentionAuto: the fused op is attempted
	// first. It exists so a capability entry can state intent explicitly.
	AttentionFused

	// AttentionDecomposed always uses the decomposed (eager) softmax
	// attention. Required for model families whose fused kernels are
	// numerically unstable under fine-tuning.
	AttentionDecomposed
)

// String implements fmt.Stringer.
func (a AttentionImpl) String() string {
	switch a {
	case AttentionAuto:
		return "auto"
	case AttentionFused:
		return "fused"
	case AttentionDecomposed:
		return "decomposed"
	}
	return "invalid"
}

// ParseAttentionImpl converts a flag value to an AttentionImpl. The empty
// string maps to AttentionAuto.
func ParseAttentionImpl(value string) (AttentionImpl, error) {
	switch strings.ToLower(value) {
	case "", "auto":
		return AttentionAuto, nil
	case "fused":
		return AttentionFused, nil
	case "decomposed", "eager":
		return AttentionDecomposed, nil
	}
	return AttentionAuto, errors.Errorf("unknown attention implementation %q, valid values are auto, fused or decomposed", value)
}

var (
	muCapabilities sync.Mutex

	// attentionCapabilities maps base-model family substrings to the
	// attention implementation they require. The gemma family is known to
	// train unstably with fused attention kernels.
	attentionCapabilities = map[string]AttentionImpl{
		"gemma": AttentionDecomposed,
	}
)

// AttentionImplForModel returns the attention implementation required by the
// base model's family, or AttentionAuto when no entry matches. Families are
// matched as case-insensitive substrings of the model name, in sorted order
// so the result is deterministic.
func AttentionImplForModel(baseModel string) AttentionImpl {
	muCapabilities.Lock()
	defer muCapabilities.Unlock()
	lower := strings.ToLower(baseModel)
	families := maps.Keys(attentionCapabilities)
	slices.Sort(families)
	for _, family := range families {
		if strings.Contains(lower, family) {
			return attentionCapabilities[family]
		}
	}
	return AttentionAuto
}

// RequireAttentionImpl overrides (or adds) the capability entry for a model
// family.
func RequireAttentionImpl(family string, impl AttentionImpl) {
	muCapabilities.Lock()
	defer muCapabilities.Unlock()
	attentionCapabilities[strings.ToLower(family)] = impl
}
