package surveydata

import (
	"fmt"
	"strings"
)

// Chat turn markers, as used by the Gemma family of instruction-tuned models.
const (
	startOfTurnUser  = "<start_of_turn>user\n"
	startOfTurnModel = "<start_of_turn>model\n"
	endOfTurn        = "<end_of_turn>\n"
)

// Formatter renders survey examples into prompt and completion text for one
// target distribution. It is immutable and safe for concurrent use.
type Formatter struct {
	style  Style
	target string
}

// NewFormatter creates a Formatter for the given style and target
// distribution vector. The vector is rendered once.
func NewFormatter(style Style, target []float64) *Formatter {
	parts := make([]string, 0, len(target))
	for _, v := range target {
		parts = append(parts, fmt.Sprintf("%.2f", v))
	}
	return &Formatter{
		style:  style,
		target: "[" + strings.Join(parts, ", ") + "]",
	}
}

// Style returns the formatter's prompt style.
func (f *Formatter) Style() Style { return f.style }

// Target returns the rendered target distribution.
func (f *Formatter) Target() string { return f.target }

// Prompt renders the instruction part of an example. Tokens of the prompt are
// excluded from the training loss.
func (f *Formatter) Prompt(text string) string {
	instruction := fmt.Sprintf(
		"The following distribution describes how a population rated the statement on a 1-10 scale: %s\n%s\nArgument:",
		f.target, text)
	if f.style == StyleChat {
		return startOfTurnUser + instruction + endOfTurn + startOfTurnModel
	}
	return instruction + " "
}

// Completion renders the response part of an example, the span the model is
// trained to produce.
func (f *Formatter) Completion(label string) string {
	if f.style == StyleChat {
		return label + endOfTurn
	}
	return label
}
