package gemini

import (
	"context"
	"fmt"
	"orca/internal/agent"
	"slices"
	"strings"
	"unicode"
)

// OfflineModel is reported as the model of offline analyses.
const OfflineModel = "offline"

const maxOfflineKeywords = 8

// Offline is a deterministic local analyzer used when no API key is
// configured. It lets the pipeline run end to end in development and tests.
type Offline struct{}

// AnalyzeBrief summarizes the brief and extracts simple keywords.
func (Offline) AnalyzeBrief(ctx context.Context, req BriefRequest) (*BriefAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("Offline analysis (no Gemini API key configured)\n\n")
	fmt.Fprintf(&b, "Brief: %s\n", strings.TrimSpace(req.TextPrompt))
	if name, ok := req.Context["product_name"].(string); ok && name != "" {
		fmt.Fprintf(&b, "Product: %s\n", name)
	}
	if locale, ok := req.Context["locale"].(string); ok && locale != "" {
		fmt.Fprintf(&b, "Locale: %s\n", locale)
	}
	if platforms, ok := req.Context["target_platforms"].([]string); ok && len(platforms) > 0 {
		fmt.Fprintf(&b, "Target platforms: %s\n", strings.Join(platforms, ", "))
	}
	if kw := keywords(req.TextPrompt); len(kw) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(kw, ", "))
	}

	return &BriefAnalysis{
		Analysis:   strings.TrimRight(b.String(), "\n"),
		TextPrompt: req.TextPrompt,
		ImageURL:   req.ImageURL,
		Meta:       req.Context,
		Model:      OfflineModel,
	}, nil
}

// AnalyzeImage cannot inspect images offline and always returns the fallback.
func (Offline) AnalyzeImage(context.Context, []byte, string) agent.ImageAnalysis {
	return agent.FallbackImageAnalysis("image analysis is unavailable offline")
}

// keywords returns the distinct lower-cased words of at least four letters,
// in order of first appearance.
func keywords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, w := range words {
		if len([]rune(w)) < 4 || slices.Contains(out, w) {
			continue
		}
		out = append(out, w)
		if len(out) == maxOfflineKeywords {
			break
		}
	}
	return out
}
