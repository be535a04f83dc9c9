package gemini

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

const briefSystemInstruction = `You are a marketing strategist reviewing a product brief.
Identify the product or service, its key features and selling points, the target audience,
the value propositions, a suggested tone of voice and a few content hooks.
Keep the answer structured with one heading per topic.`

const imageCVIPrompt = `Extract the Canonical Visual Identity (CVI) of the product in this image.
Describe only what is visible. Do not guess and do not suggest changes to the product.
Return only JSON with these fields:
product_type (string), visual_description (string), visible_features (string array),
aesthetics_and_style (string array), mood_or_emotion (string array),
possible_use_cases (string array), colors (string array), tags (string array),
confidence (number between 0 and 1),
visual_constraints (object with exact_colors (string array), materials (string),
shape_form (string), forbidden_modifications (string array)).`

// buildBriefPrompt renders the brief and its context. Context keys are
// sorted so the prompt is stable for a given input.
func buildBriefPrompt(req BriefRequest) string {
	var b strings.Builder
	b.WriteString("Analyze the following marketing brief and extract key insights.\n\n")
	fmt.Fprintf(&b, "Brief: %s\n", req.TextPrompt)
	if req.ImageURL != "" {
		fmt.Fprintf(&b, "Image URL: %s (the image is analyzed separately)\n", req.ImageURL)
	}

	if len(req.Context) > 0 {
		b.WriteString("\nAdditional context:\n")
		keys := make([]string, 0, len(req.Context))
		for k := range req.Context {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, formatValue(req.Context[k]))
		}
	}

	b.WriteString("\nProvide a comprehensive analysis with actionable insights for content creation.")
	return b.String()
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return "none"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
