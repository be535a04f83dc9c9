// Package agent defines the result contracts that downstream analysis agents
// fill in. The zero value of every contract is structurally valid.
package agent

// ImageAnalysis is produced by the image analysis agent. Besides the generic
// detection fields it carries the Canonical Visual Identity (CVI) of the
// product, the visual attributes later stages must preserve.
type ImageAnalysis struct {
	Objects    []string `json:"objects"`
	OCRText    string   `json:"ocr_text,omitempty"`
	Colors     []string `json:"colors"`
	Mood       string   `json:"mood,omitempty"`
	AltText    string   `json:"alt_text,omitempty"`
	Hooks      []string `json:"hooks"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`

	ProductType        string            `json:"product_type,omitempty"`
	VisualDescription  string            `json:"visual_description,omitempty"`
	VisibleFeatures    []string          `json:"visible_features"`
	AestheticsAndStyle []string          `json:"aesthetics_and_style"`
	MoodOrEmotion      []string          `json:"mood_or_emotion"`
	PossibleUseCases   []string          `json:"possible_use_cases"`
	VisualConstraints  VisualConstraints `json:"visual_constraints"`
}

// VisualConstraints pins what generation must not alter.
type VisualConstraints struct {
	ExactColors            []string `json:"exact_colors"`
	Materials              string   `json:"materials,omitempty"`
	ShapeForm              string   `json:"shape_form,omitempty"`
	ForbiddenModifications []string `json:"forbidden_modifications"`
}

// DefaultForbiddenModifications applies when the analyzer names none.
var DefaultForbiddenModifications = []string{
	"Do not change color",
	"Do not change proportions",
	"Do not remove components",
	"Do not add components",
	"Do not redesign any visible part",
}

// Branding is produced by the branding agent.
type Branding struct {
	AudiencePersonas []map[string]any `json:"audience_personas"`
	ToneOptions      []string         `json:"tone_options"`
	BrandDoRules     []string         `json:"brand_do_rules"`
	BrandDontRules   []string         `json:"brand_dont_rules"`
	SeedKeywords     []string         `json:"seed_keywords"`
	ValueProps       []string         `json:"value_props"`
}

// SEO is produced by the SEO and keyword agent.
type SEO struct {
	Keywords             []map[string]any `json:"keywords"`
	IntentClassification string           `json:"intent_classification,omitempty"`
	PriorityKeywords     []string         `json:"priority_keywords"`
	SERPInsights         map[string]any   `json:"serp_insights,omitempty"`
}

// ChannelBrief is one channel-specific brief.
type ChannelBrief struct {
	Channel       string           `json:"channel"`
	Format        string           `json:"format"`
	ContentLength *int             `json:"content_length,omitempty"`
	ImageCrops    []map[string]any `json:"image_crops,omitempty"`
	PostingTimes  []string         `json:"posting_times,omitempty"`
	Requirements  map[string]any   `json:"requirements"`
}

// ChannelPlan is produced by the channel planner.
type ChannelPlan struct {
	ChannelBriefs []ChannelBrief `json:"channel_briefs"`
}

// Content formats produced by content generation agents.
const (
	FormatBlog         = "blog"
	FormatSocial       = "social"
	FormatNewsletter   = "newsletter"
	FormatVisualPrompt = "visual_prompt"
)

// ContentGeneration is one piece of generated content.
type ContentGeneration struct {
	FormatType string         `json:"format_type"`
	Content    map[string]any `json:"content"`
	Metadata   map[string]any `json:"metadata"`
}

// QualityCheck is produced by the quality and simulation agent.
// Optional scores are nil when the agent did not compute them.
type QualityCheck struct {
	Confidence       float64  `json:"confidence"`
	ReadabilityScore *float64 `json:"readability_score,omitempty"`
	KeywordCoverage  *float64 `json:"keyword_coverage,omitempty"`
	CTRSimulation    *float64 `json:"ctr_simulation,omitempty"`
	Issues           []string `json:"issues"`
	Suggestions      []string `json:"suggestions"`
}

// Publisher statuses.
const (
	PublishScheduled = "scheduled"
	PublishPublished = "published"
	PublishFailed    = "failed"
)

// Publisher is produced by the publisher agent. Maps are keyed by platform.
type Publisher struct {
	PublishIDs   map[string]string `json:"publish_ids"`
	TrackingURLs map[string]string `json:"tracking_urls"`
	ScheduledAt  string            `json:"scheduled_at,omitempty"`
	Status       string            `json:"status"`
}

// Results groups the outputs of all downstream agents. A nil field means the
// agent has not run yet.
type Results struct {
	ImageAnalysis     *ImageAnalysis      `json:"image_analysis"`
	Branding          *Branding           `json:"branding"`
	SEO               *SEO                `json:"seo"`
	ChannelPlanning   *ChannelPlan        `json:"channel_planning"`
	ContentGeneration []ContentGeneration `json:"content_generation"`
	QualityCheck      *QualityCheck       `json:"quality_check"`
	Publisher         *Publisher          `json:"publisher"`
}

// Placeholders returns Results with no agent output, content generation as an empty list.
func Placeholders() Results {
	return Results{ContentGeneration: []ContentGeneration{}}
}

// PendingIntegrations names the agents not yet wired into orchestration.
var PendingIntegrations = []string{
	"Integrate Image Analysis Agent",
	"Integrate Branding Agent",
	"Integrate SEO Agent",
	"Integrate Channel Planner",
	"Integrate Content Generation Agents",
	"Integrate Quality Agent",
	"Integrate Publisher Agent",
}
