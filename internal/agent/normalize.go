package agent

import "math"

// clamp01 limits v to [0,1]. NaN becomes 0.
func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func clampOptional(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := clamp01(*v)
	return &c
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func orEmptyMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}

// Normalize clamps scores into [0,1] and replaces nil lists with empty ones.
func (a *ImageAnalysis) Normalize() {
	a.Confidence = clamp01(a.Confidence)
	a.Objects = orEmpty(a.Objects)
	a.Colors = orEmpty(a.Colors)
	a.Hooks = orEmpty(a.Hooks)
	a.Tags = orEmpty(a.Tags)
	a.VisibleFeatures = orEmpty(a.VisibleFeatures)
	a.AestheticsAndStyle = orEmpty(a.AestheticsAndStyle)
	a.MoodOrEmotion = orEmpty(a.MoodOrEmotion)
	a.PossibleUseCases = orEmpty(a.PossibleUseCases)
	a.VisualConstraints.ExactColors = orEmpty(a.VisualConstraints.ExactColors)
	if len(a.VisualConstraints.ForbiddenModifications) == 0 {
		a.VisualConstraints.ForbiddenModifications = append([]string(nil), DefaultForbiddenModifications...)
	}
}

// Normalize replaces nil lists with empty ones.
func (b *Branding) Normalize() {
	b.AudiencePersonas = orEmpty(b.AudiencePersonas)
	b.ToneOptions = orEmpty(b.ToneOptions)
	b.BrandDoRules = orEmpty(b.BrandDoRules)
	b.BrandDontRules = orEmpty(b.BrandDontRules)
	b.SeedKeywords = orEmpty(b.SeedKeywords)
	b.ValueProps = orEmpty(b.ValueProps)
}

// Normalize replaces nil lists with empty ones.
func (s *SEO) Normalize() {
	s.Keywords = orEmpty(s.Keywords)
	s.PriorityKeywords = orEmpty(s.PriorityKeywords)
}

// Normalize replaces nil lists and requirement maps with empty ones.
func (c *ChannelPlan) Normalize() {
	c.ChannelBriefs = orEmpty(c.ChannelBriefs)
	for i := range c.ChannelBriefs {
		c.ChannelBriefs[i].Requirements = orEmptyMap(c.ChannelBriefs[i].Requirements)
	}
}

// Normalize replaces nil maps with empty ones.
func (g *ContentGeneration) Normalize() {
	g.Content = orEmptyMap(g.Content)
	g.Metadata = orEmptyMap(g.Metadata)
}

// Normalize clamps every score into [0,1].
func (q *QualityCheck) Normalize() {
	q.Confidence = clamp01(q.Confidence)
	q.ReadabilityScore = clampOptional(q.ReadabilityScore)
	q.KeywordCoverage = clampOptional(q.KeywordCoverage)
	q.CTRSimulation = clampOptional(q.CTRSimulation)
	q.Issues = orEmpty(q.Issues)
	q.Suggestions = orEmpty(q.Suggestions)
}

// Normalize defaults the status to scheduled.
func (p *Publisher) Normalize() {
	p.PublishIDs = orEmptyMap(p.PublishIDs)
	p.TrackingURLs = orEmptyMap(p.TrackingURLs)
	if p.Status == "" {
		p.Status = PublishScheduled
	}
}
