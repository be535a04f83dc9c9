// Package gemini analyzes marketing briefs and product images with the
// Gemini generateContent REST API.
package gemini

import (
	"context"
	"orca/internal/agent"
)

// BriefRequest is the input to brief analysis.
type BriefRequest struct {
	TextPrompt string
	ImageURL   string
	Context    map[string]any // product name, locale, platforms, image metadata
}

// BriefAnalysis is the free-form analysis of a brief.
type BriefAnalysis struct {
	Analysis   string         `json:"analysis"`
	TextPrompt string         `json:"text_prompt"`
	ImageURL   string         `json:"image_url,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	Model      string         `json:"model"`
}

// Analyzer is implemented by Client and Offline.
type Analyzer interface {
	AnalyzeBrief(ctx context.Context, req BriefRequest) (*BriefAnalysis, error)
	AnalyzeImage(ctx context.Context, data []byte, mimeType string) agent.ImageAnalysis
}

var (
	_ Analyzer = (*Client)(nil)
	_ Analyzer = Offline{}
)
