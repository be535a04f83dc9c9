package orchestration

import (
	"context"
	"errors"
	"orca/internal/agent"
	"orca/internal/apperrors"
	"orca/internal/gemini"
	"orca/internal/imaging"
	"orca/internal/job"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAnalyzer records whether and how it was invoked.
type stubAnalyzer struct {
	mu          sync.Mutex
	briefCalls  int
	imageCalls  int
	lastRequest gemini.BriefRequest
	err         error
	panicWith   any
	image       agent.ImageAnalysis
}

func (s *stubAnalyzer) AnalyzeBrief(_ context.Context, req gemini.BriefRequest) (*gemini.BriefAnalysis, error) {
	s.mu.Lock()
	s.briefCalls++
	s.lastRequest = req
	s.mu.Unlock()

	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &gemini.BriefAnalysis{
		Analysis:   "Target commuters with a durability angle.",
		TextPrompt: req.TextPrompt,
		ImageURL:   req.ImageURL,
		Meta:       req.Context,
		Model:      "stub",
	}, nil
}

func (s *stubAnalyzer) AnalyzeImage(context.Context, []byte, string) agent.ImageAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageCalls++
	return s.image
}

func (s *stubAnalyzer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.briefCalls
}

type stubImages struct {
	validateErr error
	processErr  error
	fetchErr    error
	metadata    map[string]any
	image       *imaging.Image

	mu       sync.Mutex
	validate int
	process  int
	fetch    int
}

func (s *stubImages) Validate(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validate++
	return s.validateErr
}

func (s *stubImages) Process(context.Context, string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.process++
	if s.processErr != nil {
		return nil, s.processErr
	}
	return s.metadata, nil
}

func (s *stubImages) Fetch(context.Context, string) (*imaging.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetch++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.image, nil
}

type recordedFinish struct {
	success bool
	stage   string
}

type fakeMetrics struct {
	mu            sync.Mutex
	submitted     int
	started       int
	finished      []recordedFinish
	collaborators map[string]int
}

func (m *fakeMetrics) RecordJobSubmitted(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted++
}

func (m *fakeMetrics) RecordJobStarted(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *fakeMetrics) RecordJobFinished(_ context.Context, success bool, stage string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, recordedFinish{success, stage})
}

func (m *fakeMetrics) RecordCollaboratorCall(_ context.Context, name string, _ bool, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collaborators == nil {
		m.collaborators = make(map[string]int)
	}
	m.collaborators[name]++
}

func briefRequest() *job.Request {
	return &job.Request{
		UserID:     "user-1",
		TextPrompt: "Eco bottle for commuters, 12h retention",
		Meta: &job.Meta{
			ProductName:     "EcoBottle",
			Locale:          "en-IN",
			TargetPlatforms: job.Platforms{"instagram", "linkedin"},
		},
	}
}

func testImage() *imaging.Image {
	return &imaging.Image{
		URL:         "https://cdn.example.com/bottle.png",
		ContentType: "image/png",
		Format:      "png",
		Width:       640,
		Height:      480,
		Data:        []byte{0x89, 'P', 'N', 'G'},
	}
}

func newController(images Images, analyzer gemini.Analyzer, opts ControllerOptions) (*Controller, *job.Manager) {
	jobs := job.NewManager(job.NewStore())
	return NewController(jobs, images, analyzer, opts), jobs
}

func getJob(t *testing.T, jobs *job.Manager, id string) *job.Record {
	t.Helper()
	rec, ok := jobs.Get(id)
	require.True(t, ok, "job %s not found", id)
	return rec
}

func TestExecute_NoImageCompletes(t *testing.T) {
	t.Parallel()
	images := &stubImages{}
	analyzer := &stubAnalyzer{}
	c, jobs := newController(images, analyzer, ControllerOptions{})
	req := briefRequest()
	id := jobs.Create(context.Background(), req)

	require.NoError(t, c.Execute(context.Background(), id, req))

	rec := getJob(t, jobs, id)
	assert.Equal(t, job.StatusCompleted, rec.Status)
	assert.Empty(t, rec.Errors)
	assert.Equal(t, 1, analyzer.calls())
	assert.Zero(t, images.validate+images.process+images.fetch)

	require.Contains(t, rec.Results, "orchestration_plan")
	assert.Equal(t, id, rec.Results["job_id"])
	assert.Equal(t, ReadyForAgentIntegration, rec.Results["status"])
	assert.Nil(t, rec.Results["image_metadata"])
	assert.Equal(t, agent.PendingIntegrations, rec.Results["next_steps"])

	plan, ok := rec.Results["orchestration_plan"].(Plan)
	require.True(t, ok)
	require.NotNil(t, plan.BriefAnalysis)
	assert.Equal(t, "Target commuters with a durability angle.", plan.BriefAnalysis.Analysis)
	assert.Equal(t, "en-IN", plan.ExtractedInfo.Locale)
	assert.Equal(t, []string{"instagram", "linkedin"}, plan.ExtractedInfo.TargetPlatforms)
	require.NotNil(t, plan.ExtractedInfo.ProductName)
	assert.Equal(t, "EcoBottle", *plan.ExtractedInfo.ProductName)

	results, ok := rec.Results["agent_results"].(agent.Results)
	require.True(t, ok)
	assert.Nil(t, results.ImageAnalysis)
	assert.Nil(t, results.Branding)
	assert.Nil(t, results.SEO)
	assert.Nil(t, results.ChannelPlanning)
	assert.NotNil(t, results.ContentGeneration)
	assert.Empty(t, results.ContentGeneration)
	assert.Nil(t, results.QualityCheck)
	assert.Nil(t, results.Publisher)
}

func TestExecute_ShortBriefNeverReachesAnalyzer(t *testing.T) {
	t.Parallel()
	analyzer := &stubAnalyzer{}
	c, jobs := newController(&stubImages{}, analyzer, ControllerOptions{})
	req := &job.Request{TextPrompt: "short"}
	id := jobs.Create(context.Background(), req)

	err := c.Execute(context.Background(), id, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	rec := getJob(t, jobs, id)
	assert.Equal(t, job.StatusFailed, rec.Status)
	require.Len(t, rec.Errors, 1)
	assert.Contains(t, rec.Errors[0].Message, "orchestration failed: text prompt must be at least 10 characters long")
	assert.Zero(t, analyzer.calls())
	assert.Nil(t, rec.Results)
}

func TestExecute_AnalyzerErrorPropagates(t *testing.T) {
	t.Parallel()
	quota := errors.New("quota exceeded")
	c, jobs := newController(&stubImages{}, &stubAnalyzer{err: quota}, ControllerOptions{})
	req := briefRequest()
	id := jobs.Create(context.Background(), req)

	err := c.Execute(context.Background(), id, req)
	require.ErrorIs(t, err, quota)

	rec := getJob(t, jobs, id)
	assert.Equal(t, job.StatusFailed, rec.Status)
	assert.Contains(t, rec.LastError(), "quota exceeded")
}

func TestExecute_PanicIsRecovered(t *testing.T) {
	t.Parallel()
	c, jobs := newController(&stubImages{}, &stubAnalyzer{panicWith: "boom"}, ControllerOptions{})
	req := briefRequest()
	id := jobs.Create(context.Background(), req)

	err := c.Execute(context.Background(), id, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: boom")

	rec := getJob(t, jobs, id)
	assert.Equal(t, job.StatusFailed, rec.Status)
	assert.Contains(t, rec.LastError(), "orchestration failed: panic: boom")
}

func TestExecute_WithImage(t *testing.T) {
	t.Parallel()
	meta := map[string]any{"url": "https://cdn.example.com/bottle.png", "validated": true, "format": "png"}
	images := &stubImages{metadata: meta}
	analyzer := &stubAnalyzer{}
	c, jobs := newController(images, analyzer, ControllerOptions{})
	req := briefRequest()
	req.ImageURL = "https://cdn.example.com/bottle.png"
	id := jobs.Create(context.Background(), req)

	require.NoError(t, c.Execute(context.Background(), id, req))

	rec := getJob(t, jobs, id)
	assert.Equal(t, job.StatusCompleted, rec.Status)
	assert.Equal(t, meta, rec.Results["image_metadata"])
	assert.Equal(t, 1, images.validate)
	assert.Equal(t, 1, images.process)
	assert.Zero(t, images.fetch)
	assert.Equal(t, meta, analyzer.lastRequest.Context["image_metadata"])
	assert.Equal(t, req.ImageURL, analyzer.lastRequest.ImageURL)
}

func TestExecute_ImageFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		images      *stubImages
		wantMessage string
		wantProcess int
	}{
		{
			name:        "validation fails",
			images:      &stubImages{validateErr: apperrors.Validation("image_url", "URL does not point to an image (content-type: text/html)")},
			wantMessage: "URL does not point to an image",
			wantProcess: 0,
		},
		{
			name:        "processing fails",
			images:      &stubImages{processErr: errors.New("invalid image format: unexpected EOF")},
			wantMessage: "invalid image format",
			wantProcess: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			analyzer := &stubAnalyzer{}
			c, jobs := newController(tt.images, analyzer, ControllerOptions{})
			req := briefRequest()
			req.ImageURL = "https://cdn.example.com/bottle.png"
			id := jobs.Create(context.Background(), req)

			require.Error(t, c.Execute(context.Background(), id, req))

			rec := getJob(t, jobs, id)
			assert.Equal(t, job.StatusFailed, rec.Status)
			assert.Contains(t, rec.LastError(), tt.wantMessage)
			assert.Equal(t, tt.wantProcess, tt.images.process)
			assert.Zero(t, analyzer.calls())
		})
	}
}

func TestExecute_InvalidLocale(t *testing.T) {
	t.Parallel()
	analyzer := &stubAnalyzer{}
	c, jobs := newController(&stubImages{}, analyzer, ControllerOptions{})
	req := briefRequest()
	req.Meta.Locale = "english"
	id := jobs.Create(context.Background(), req)

	err := c.Execute(context.Background(), id, req)
	require.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, getJob(t, jobs, id).LastError(), "invalid locale format")
	assert.Zero(t, analyzer.calls())
}

func TestExecute_DefaultsWithoutMeta(t *testing.T) {
	t.Parallel()
	analyzer := &stubAnalyzer{}
	c, jobs := newController(&stubImages{}, analyzer, ControllerOptions{})
	req := &job.Request{TextPrompt: "A standing desk for small apartments"}
	id := jobs.Create(context.Background(), req)

	require.NoError(t, c.Execute(context.Background(), id, req))

	plan := getJob(t, jobs, id).Results["orchestration_plan"].(Plan)
	assert.Equal(t, job.DefaultLocale, plan.ExtractedInfo.Locale)
	assert.NotNil(t, plan.ExtractedInfo.TargetPlatforms)
	assert.Empty(t, plan.ExtractedInfo.TargetPlatforms)
	assert.Nil(t, plan.ExtractedInfo.ProductName)

	assert.Equal(t, job.DefaultLocale, analyzer.lastRequest.Context["locale"])
	assert.Nil(t, analyzer.lastRequest.Context["product_name"])
	assert.NotContains(t, analyzer.lastRequest.Context, "image_metadata")
}

func TestExecute_JobDeletedMidway(t *testing.T) {
	t.Parallel()
	analyzer := &stubAnalyzer{}
	c, _ := newController(&stubImages{}, analyzer, ControllerOptions{})

	require.NoError(t, c.Execute(context.Background(), "gone", briefRequest()))
	assert.Equal(t, 1, analyzer.calls())
}

func TestExecute_TerminalJobIsRejected(t *testing.T) {
	t.Parallel()
	analyzer := &stubAnalyzer{}
	c, jobs := newController(&stubImages{}, analyzer, ControllerOptions{})
	req := briefRequest()
	id := jobs.Create(context.Background(), req)
	require.NoError(t, c.Execute(context.Background(), id, req))

	err := c.Execute(context.Background(), id, req)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, job.StatusCompleted, getJob(t, jobs, id).Status)
	assert.Equal(t, 1, analyzer.calls())
}

func TestExecute_ImageAnalysis(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		analysis agent.ImageAnalysis
		fallback bool
	}{
		{
			name: "parsed",
			analysis: agent.ImageAnalysis{
				ProductType:       "water bottle",
				VisualDescription: "A matte green steel bottle",
				Confidence:        0.9,
			},
		},
		{
			name:     "fallback",
			analysis: agent.FallbackImageAnalysis("model returned no JSON"),
			fallback: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			images := &stubImages{image: testImage()}
			analyzer := &stubAnalyzer{image: tt.analysis}
			c, jobs := newController(images, analyzer, ControllerOptions{ImageAnalysis: true})
			req := briefRequest()
			req.ImageURL = "https://cdn.example.com/bottle.png"
			id := jobs.Create(context.Background(), req)

			require.NoError(t, c.Execute(context.Background(), id, req))

			rec := getJob(t, jobs, id)
			assert.Equal(t, job.StatusCompleted, rec.Status)
			assert.Equal(t, 1, images.fetch)
			assert.Zero(t, images.process)
			assert.Equal(t, 1, analyzer.imageCalls)

			results := rec.Results["agent_results"].(agent.Results)
			require.NotNil(t, results.ImageAnalysis)
			assert.Equal(t, tt.analysis.VisualDescription, results.ImageAnalysis.VisualDescription)
			assert.Equal(t, tt.fallback, results.ImageAnalysis.IsFallback())

			meta := rec.Results["image_metadata"].(map[string]any)
			assert.Equal(t, 640, meta["width"])
		})
	}
}

func TestExecute_RecordsMetrics(t *testing.T) {
	t.Parallel()
	metrics := &fakeMetrics{}
	images := &stubImages{metadata: map[string]any{"validated": true}}
	c, jobs := newController(images, &stubAnalyzer{}, ControllerOptions{Metrics: metrics})

	ok := briefRequest()
	ok.ImageURL = "https://cdn.example.com/bottle.png"
	require.NoError(t, c.Execute(context.Background(), jobs.Create(context.Background(), ok), ok))

	bad := &job.Request{TextPrompt: "tiny"}
	require.Error(t, c.Execute(context.Background(), jobs.Create(context.Background(), bad), bad))

	assert.Equal(t, 2, metrics.started)
	assert.Equal(t, []recordedFinish{{true, StageComplete}, {false, StageValidate}}, metrics.finished)
	assert.Equal(t, map[string]int{
		collabImageValidate: 1,
		collabImageProcess:  1,
		collabBrief:         1,
	}, metrics.collaborators)
}
