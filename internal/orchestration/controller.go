// Package orchestration drives brief jobs from PENDING to a terminal state.
package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"orca/internal/agent"
	"orca/internal/gemini"
	"orca/internal/imaging"
	"orca/internal/job"
	"runtime/debug"
	"slices"
	"time"
)

// ReadyForAgentIntegration is the status marker of every completed bundle.
const ReadyForAgentIntegration = "ready_for_agent_integration"

// Stages reported on failure.
const (
	StageStart    = "start"
	StageValidate = "validate"
	StageImage    = "image"
	StageAnalyze  = "analyze"
	StageComplete = "complete"
)

// Collaborator names used in metrics.
const (
	collabImageValidate = "image.validate"
	collabImageProcess  = "image.process"
	collabImageFetch    = "image.fetch"
	collabBrief         = "gemini.brief"
	collabImageAnalysis = "gemini.image"
)

// Images validates and inspects product images.
type Images interface {
	Validate(ctx context.Context, url string) error
	Process(ctx context.Context, url string) (map[string]any, error)
	Fetch(ctx context.Context, url string) (*imaging.Image, error)
}

// Metrics is the subset of observability.Metrics used here.
type Metrics interface {
	RecordJobSubmitted(ctx context.Context)
	RecordJobStarted(ctx context.Context)
	RecordJobFinished(ctx context.Context, success bool, stage string, durationSeconds float64)
	RecordCollaboratorCall(ctx context.Context, name string, success bool, durationSeconds float64)
}

type noopMetrics struct{}

func (noopMetrics) RecordJobSubmitted(context.Context)                            {}
func (noopMetrics) RecordJobStarted(context.Context)                              {}
func (noopMetrics) RecordJobFinished(context.Context, bool, string, float64)      {}
func (noopMetrics) RecordCollaboratorCall(context.Context, string, bool, float64) {}

// Bundle is the result attached to a completed job.
type Bundle struct {
	JobID             string         `json:"job_id"`
	OrchestrationPlan Plan           `json:"orchestration_plan"`
	AgentResults      agent.Results  `json:"agent_results"`
	ImageMetadata     map[string]any `json:"image_metadata"`
	Status            string         `json:"status"`
	NextSteps         []string       `json:"next_steps"`
}

// Plan holds the brief analysis and the inputs it was derived from.
type Plan struct {
	BriefAnalysis *gemini.BriefAnalysis `json:"brief_analysis"`
	ExtractedInfo ExtractedInfo         `json:"extracted_info"`
}

// ExtractedInfo echoes the submission fields used for analysis.
type ExtractedInfo struct {
	TextPrompt      string   `json:"text_prompt"`
	ProductName     *string  `json:"product_name"`
	Locale          string   `json:"locale"`
	TargetPlatforms []string `json:"target_platforms"`
}

// Map returns b as result entries to merge into a job.
func (b *Bundle) Map() map[string]any {
	return map[string]any{
		"job_id":             b.JobID,
		"orchestration_plan": b.OrchestrationPlan,
		"agent_results":      b.AgentResults,
		"image_metadata":     b.ImageMetadata,
		"status":             b.Status,
		"next_steps":         b.NextSteps,
	}
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// ImageAnalysis sends the image to the analyzer for visual identity
	// extraction. Failures there degrade to a fallback record.
	ImageAnalysis bool
	Metrics       Metrics
}

// Controller runs the orchestration steps for one job at a time. It holds no
// per-job state and is safe for concurrent use.
type Controller struct {
	jobs          *job.Manager
	images        Images
	analyzer      gemini.Analyzer
	metrics       Metrics
	imageAnalysis bool
	logger        *slog.Logger
}

// NewController creates a controller.
func NewController(jobs *job.Manager, images Images, analyzer gemini.Analyzer, opts ControllerOptions) *Controller {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Controller{
		jobs:          jobs,
		images:        images,
		analyzer:      analyzer,
		metrics:       metrics,
		imageAnalysis: opts.ImageAnalysis,
		logger:        slog.With("component", "orchestration"),
	}
}

// Execute orchestrates job id for req. Steps run strictly in order and the
// first failure aborts the rest. On failure, including a panic, the job is
// moved to FAILED with the error appended and the error is returned.
func (c *Controller) Execute(ctx context.Context, id string, req *job.Request) (err error) {
	logger := c.logger.With("jobId", id)
	start := time.Now()
	stage := StageStart
	c.metrics.RecordJobStarted(ctx)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			logger.ErrorContext(ctx, "Orchestration panicked", "stage", stage,
				"panic", fmt.Sprint(p), "stack", string(debug.Stack()))
		}
		if err != nil {
			logger.ErrorContext(ctx, "Orchestration failed", "stage", stage, "error", err)
			u := job.Update{Status: job.StatusFailed, Error: "orchestration failed: " + err.Error()}
			if uerr := c.update(ctx, logger, id, u); uerr != nil {
				logger.ErrorContext(ctx, "Failed to mark job as failed", "error", uerr)
			}
		}
		c.metrics.RecordJobFinished(ctx, err == nil, stage, time.Since(start).Seconds())
	}()

	if err := c.update(ctx, logger, id, job.Update{Status: job.StatusProcessing}); err != nil {
		return err
	}
	logger.InfoContext(ctx, "Orchestration started")

	stage = StageValidate
	if err := c.validate(ctx, req); err != nil {
		return err
	}

	var (
		imageMeta map[string]any
		img       *imaging.Image
	)
	if req.ImageURL != "" {
		stage = StageImage
		if c.imageAnalysis {
			err = c.observe(ctx, collabImageFetch, func() error {
				var ferr error
				img, ferr = c.images.Fetch(ctx, req.ImageURL)
				return ferr
			})
			if err == nil {
				imageMeta = img.Metadata()
			}
		} else {
			err = c.observe(ctx, collabImageProcess, func() error {
				var perr error
				imageMeta, perr = c.images.Process(ctx, req.ImageURL)
				return perr
			})
		}
		if err != nil {
			return err
		}
	}

	stage = StageAnalyze
	info := extractInfo(req)
	var analysis *gemini.BriefAnalysis
	err = c.observe(ctx, collabBrief, func() error {
		var aerr error
		analysis, aerr = c.analyzer.AnalyzeBrief(ctx, gemini.BriefRequest{
			TextPrompt: req.TextPrompt,
			ImageURL:   req.ImageURL,
			Context:    analysisContext(info, imageMeta),
		})
		return aerr
	})
	if err != nil {
		return fmt.Errorf("brief analysis: %w", err)
	}

	results := agent.Placeholders()
	if img != nil {
		results.ImageAnalysis = c.analyzeImage(ctx, logger, img)
	}

	stage = StageComplete
	bundle := &Bundle{
		JobID:             id,
		OrchestrationPlan: Plan{BriefAnalysis: analysis, ExtractedInfo: info},
		AgentResults:      results,
		ImageMetadata:     imageMeta,
		Status:            ReadyForAgentIntegration,
		NextSteps:         slices.Clone(agent.PendingIntegrations),
	}
	if err := c.update(ctx, logger, id, job.Update{Status: job.StatusCompleted, Result: bundle.Map()}); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Orchestration completed", "duration", time.Since(start))
	return nil
}

// validate checks the brief, the image and the locale, in that order.
func (c *Controller) validate(ctx context.Context, req *job.Request) error {
	if err := job.ValidateBrief(req.TextPrompt); err != nil {
		return err
	}
	if req.ImageURL != "" {
		err := c.observe(ctx, collabImageValidate, func() error {
			return c.images.Validate(ctx, req.ImageURL)
		})
		if err != nil {
			return err
		}
	}
	if req.Meta != nil && req.Meta.Locale != "" {
		return job.ValidateLocale(req.Meta.Locale)
	}
	return nil
}

func (c *Controller) analyzeImage(ctx context.Context, logger *slog.Logger, img *imaging.Image) *agent.ImageAnalysis {
	start := time.Now()
	analysis := c.analyzer.AnalyzeImage(ctx, img.Data, img.ContentType)
	c.metrics.RecordCollaboratorCall(ctx, collabImageAnalysis, !analysis.IsFallback(), time.Since(start).Seconds())
	if analysis.IsFallback() {
		logger.WarnContext(ctx, "Image analysis fell back", "reason", analysis.VisualDescription)
	}
	return &analysis
}

// update applies u and reports a vanished job as a warning, not an error.
func (c *Controller) update(ctx context.Context, logger *slog.Logger, id string, u job.Update) error {
	ok, err := c.jobs.Update(id, u)
	if err != nil {
		return err
	}
	if !ok {
		logger.WarnContext(ctx, "Job no longer exists, update dropped", "status", u.Status)
	}
	return nil
}

func (c *Controller) observe(ctx context.Context, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.metrics.RecordCollaboratorCall(ctx, name, err == nil, time.Since(start).Seconds())
	return err
}

func extractInfo(req *job.Request) ExtractedInfo {
	info := ExtractedInfo{
		TextPrompt:      req.TextPrompt,
		Locale:          req.Meta.LocaleOrDefault(),
		TargetPlatforms: req.Meta.PlatformList(),
	}
	if name := req.Meta.ProductNameOrEmpty(); name != "" {
		info.ProductName = &name
	}
	return info
}

func analysisContext(info ExtractedInfo, imageMeta map[string]any) map[string]any {
	ctx := map[string]any{
		"text_prompt":      info.TextPrompt,
		"locale":           info.Locale,
		"target_platforms": info.TargetPlatforms,
		"product_name":     nil,
	}
	if info.ProductName != nil {
		ctx["product_name"] = *info.ProductName
	}
	if imageMeta != nil {
		ctx["image_metadata"] = imageMeta
	}
	return ctx
}
