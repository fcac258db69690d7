package surveydata

import (
	"strings"

	"github.com/pkg/errors"
)

// Style selects how training examples are rendered into prompts.
type Style int

const (
	// StylePlain renders a bare completion prompt, for base models.
	StylePlain Style = iota
	// StyleChat wraps the instruction in chat turn markers, for
	// instruction-tuned models.
	StyleChat
)

// String implements fmt.Stringer.
func (s Style) String() string {
	switch s {
	case StylePlain:
		return "plain"
	case StyleChat:
		return "chat"
	}
	return "invalid"
}

// ParseStyle converts a flag value to a Style. The empty string and "auto"
// defer to StyleForModel.
func ParseStyle(value, modelName string) (Style, error) {
	switch strings.ToLower(value) {
	case "", "auto":
		return StyleForModel(modelName), nil
	case "plain":
		return StylePlain, nil
	case "chat":
		return StyleChat, nil
	}
	return StylePlain, errors.Errorf("unknown prompt style %q, valid values are auto, plain or chat", value)
}

// StyleForModel resolves the prompt style from the model name tag. Models
// tagged as chat or instruction-tuned variants get StyleChat. This is
// resolved once at start up; the rest of the pipeline only sees the Style.
func StyleForModel(modelName string) Style {
	lower := strings.ToLower(modelName)
	for _, tag := range []string{"chat", "-it", "instruct"} {
		if strings.Contains(lower, tag) {
			return StyleChat
		}
	}
	return StylePlain
}
