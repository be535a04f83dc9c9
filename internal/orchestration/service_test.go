package orchestration

import (
	"context"
	"orca/internal/apperrors"
	"orca/internal/gemini"
	"orca/internal/job"
	"orca/internal/runner"
	"orca/internal/testutil"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rejectingSubmitter struct{ err error }

func (r rejectingSubmitter) Submit(runner.Task) error { return r.err }

func newService(t *testing.T, analyzer gemini.Analyzer) (*Service, *job.Manager) {
	t.Helper()
	jobs := job.NewManager(job.NewStore())
	r := runner.NewMemory(runner.Config{Workers: 2, BufferSize: 16}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	c := NewController(jobs, &stubImages{}, analyzer, ControllerOptions{})
	return NewService(jobs, c, r, nil), jobs
}

func waitTerminal(t *testing.T, svc *Service, id string) *job.Record {
	t.Helper()
	return testutil.MustPoll(t, func() (*job.Record, bool) {
		rec, err := svc.Get(id)
		if err != nil {
			return nil, false
		}
		return rec, rec.Status.Terminal()
	})
}

func TestService_SubmitEndToEnd(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, gemini.Offline{})

	rec, err := svc.Submit(context.Background(), &job.Request{
		TextPrompt: "Eco bottle for commuters, 12h retention",
		Meta: &job.Meta{
			Locale:          "en-IN",
			TargetPlatforms: job.Platforms{"instagram", "linkedin"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, rec.Status)
	assert.NotEmpty(t, rec.ID)

	done := waitTerminal(t, svc, rec.ID)
	require.Equal(t, job.StatusCompleted, done.Status, done.LastError())

	plan := done.Results["orchestration_plan"].(Plan)
	assert.Equal(t, "en-IN", plan.ExtractedInfo.Locale)
	assert.Equal(t, []string{"instagram", "linkedin"}, plan.ExtractedInfo.TargetPlatforms)
	assert.Equal(t, gemini.OfflineModel, plan.BriefAnalysis.Model)
	assert.Contains(t, plan.BriefAnalysis.Analysis, "Locale: en-IN")
}

func TestService_SubmitAnalyzerFailure(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, &stubAnalyzer{err: assert.AnError})

	rec, err := svc.Submit(context.Background(), briefRequest())
	require.NoError(t, err, "background failures are not reported to the submitter")

	done := waitTerminal(t, svc, rec.ID)
	assert.Equal(t, job.StatusFailed, done.Status)
	assert.Contains(t, done.LastError(), assert.AnError.Error())
}

func TestService_SubmitValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		req  *job.Request
	}{
		{"short brief", &job.Request{TextPrompt: "short"}},
		{"bad locale", &job.Request{TextPrompt: "A standing desk for small apartments", Meta: &job.Meta{Locale: "en_us"}}},
		{"unknown platform", &job.Request{TextPrompt: "A standing desk for small apartments", Meta: &job.Meta{TargetPlatforms: job.Platforms{"myspace"}}}},
		{"bad image url", &job.Request{TextPrompt: "A standing desk for small apartments", ImageURL: "ftp://example.com/a.png"}},
		{"bad job id", &job.Request{JobID: "-leading", TextPrompt: "A standing desk for small apartments"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, jobs := newService(t, &stubAnalyzer{})
			_, err := svc.Submit(context.Background(), tt.req)
			require.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Empty(t, jobs.List(job.ListOptions{}))
		})
	}
}

func TestService_SubmitNormalizesPlatforms(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, &stubAnalyzer{})
	req := briefRequest()
	req.Meta.TargetPlatforms = job.Platforms{"Instagram", "instagram", "LinkedIn"}

	rec, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, job.Platforms{"instagram", "linkedin"}, rec.Meta.TargetPlatforms)
}

func TestService_SubmitCollision(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, &stubAnalyzer{})

	first := briefRequest()
	first.JobID = "launch-1"
	a, err := svc.Submit(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, "launch-1", a.ID)

	second := briefRequest()
	second.JobID = "launch-1"
	second.TextPrompt = "A different brief for the same id"
	b, err := svc.Submit(context.Background(), second)
	require.NoError(t, err)
	assert.NotEqual(t, "launch-1", b.ID)

	orig, err := svc.Get("launch-1")
	require.NoError(t, err)
	assert.Equal(t, first.TextPrompt, orig.Brief)
}

func TestService_SubmitUnschedulable(t *testing.T) {
	t.Parallel()
	for _, cause := range []error{runner.ErrQueueFull, runner.ErrClosed} {
		t.Run(cause.Error(), func(t *testing.T) {
			t.Parallel()
			jobs := job.NewManager(job.NewStore())
			metrics := &fakeMetrics{}
			c := NewController(jobs, &stubImages{}, &stubAnalyzer{}, ControllerOptions{})
			svc := NewService(jobs, c, rejectingSubmitter{err: cause}, metrics)

			_, err := svc.Submit(context.Background(), briefRequest())
			require.ErrorIs(t, err, apperrors.ErrUnavailable)
			assert.ErrorIs(t, err, cause)
			assert.Equal(t, 1, metrics.submitted)

			recs := jobs.List(job.ListOptions{})
			require.Len(t, recs, 1)
			assert.Equal(t, job.StatusFailed, recs[0].Status)
			assert.Contains(t, recs[0].LastError(), "orchestration could not be scheduled")
		})
	}
}

func TestService_GetListDelete(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, &stubAnalyzer{})

	_, err := svc.Get("missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, svc.Delete("missing"), apperrors.ErrNotFound)

	mine := briefRequest()
	mine.UserID = "alice"
	a, err := svc.Submit(context.Background(), mine)
	require.NoError(t, err)

	theirs := briefRequest()
	theirs.UserID = "bob"
	_, err = svc.Submit(context.Background(), theirs)
	require.NoError(t, err)

	listed := svc.List(job.ListOptions{Owner: "alice"})
	require.Len(t, listed, 1)
	assert.Equal(t, a.ID, listed[0].ID)

	require.NoError(t, svc.Delete(a.ID))
	_, err = svc.Get(a.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
