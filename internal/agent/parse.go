package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// UnknownProduct marks an ImageAnalysis built by FallbackImageAnalysis.
const UnknownProduct = "unknown_product"

// Normalizer is implemented by every contract.
type Normalizer interface {
	Normalize()
}

// Parse decodes agent output into a contract. Markdown code fences around the
// JSON are tolerated. The decoded value is normalized before it is returned.
func Parse[T any, PT interface {
	*T
	Normalizer
}](text string) (T, error) {
	var out T
	body := StripCodeFence(text)
	if body == "" {
		return out, errors.New("empty agent output")
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return out, fmt.Errorf("decode agent output: %w", err)
	}
	PT(&out).Normalize()
	return out, nil
}

// StripCodeFence removes a surrounding ``` or ```json fence and whitespace.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = strings.TrimPrefix(rest, "json")
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseImageAnalysis decodes image agent output. Invalid output never
// propagates as an error: it yields FallbackImageAnalysis instead.
func ParseImageAnalysis(text string) ImageAnalysis {
	a, err := Parse[ImageAnalysis](text)
	if err != nil {
		return FallbackImageAnalysis(err.Error())
	}
	return a
}

// FallbackImageAnalysis is the explicit record used when image analysis fails.
func FallbackImageAnalysis(reason string) ImageAnalysis {
	a := ImageAnalysis{
		ProductType:        UnknownProduct,
		VisualDescription:  "Analysis failed: " + reason,
		VisibleFeatures:    []string{"unable_to_analyze"},
		AestheticsAndStyle: []string{"unknown"},
		MoodOrEmotion:      []string{"neutral"},
		PossibleUseCases:   []string{"general_purpose"},
	}
	a.Normalize()
	return a
}

// IsFallback reports whether a was produced by FallbackImageAnalysis.
func (a ImageAnalysis) IsFallback() bool {
	return a.ProductType == UnknownProduct
}
