package job

import (
	"context"
	"log/slog"
	"orca/internal/apperrors"
	"time"

	"github.com/google/uuid"
)

// DefaultListLimit caps List when the caller gives no limit.
const DefaultListLimit = 100

// Manager owns job lifecycle on top of a Store: ID assignment, status
// transitions, error log appends and result merges.
//
// The ID returned by Create is authoritative. A caller-supplied ID that is
// already taken is replaced by a generated one.
type Manager struct {
	store *Store
	now   func() time.Time
	newID func() string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides ID generation.
func WithIDGenerator(gen func() string) ManagerOption {
	return func(m *Manager) { m.newID = gen }
}

// NewManager creates a manager over store.
func NewManager(store *Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a new PENDING job for req and returns its ID.
func (m *Manager) Create(ctx context.Context, req *Request) string {
	now := m.now().UTC()
	rec := &Record{
		ID:        req.JobID,
		Owner:     req.UserID,
		Brief:     req.TextPrompt,
		ImageURL:  req.ImageURL,
		Meta:      req.Meta.clone(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rec.ID == "" {
		rec.ID = m.newID()
	}

	for !m.store.PutIfAbsent(rec) {
		requested := rec.ID
		rec.ID = m.newID()
		slog.WarnContext(ctx, "Job ID already in use, generated a new one",
			"requestedJobId", requested, "jobId", rec.ID)
	}

	slog.DebugContext(ctx, "Job created", "jobId", rec.ID, "userId", rec.Owner)
	return rec.ID
}

// Get returns a copy of the job, or false if it does not exist.
func (m *Manager) Get(id string) (*Record, bool) {
	return m.store.Get(id)
}

// Update applies u to the job atomically. It returns false with a nil error
// when the job does not exist, and an InvalidTransition error when u.Status is
// not reachable from the current status. Nothing is mutated in either case.
//
// When u.Status is set and u.Error is non-empty the error is appended to the
// log, whichever status is being set. u.Result is merged key by key.
func (m *Manager) Update(id string, u Update) (bool, error) {
	return m.store.Mutate(id, func(rec *Record) error {
		if u.Status != "" && u.Status != rec.Status {
			if !CanTransition(rec.Status, u.Status) {
				return apperrors.InvalidTransition("job", id, string(rec.Status), string(u.Status))
			}
		}

		now := m.now().UTC()
		if !now.After(rec.UpdatedAt) {
			now = rec.UpdatedAt.Add(time.Nanosecond)
		}

		if u.Status != "" {
			rec.Status = u.Status
			if u.Error != "" {
				rec.Errors = append(rec.Errors, ErrorEntry{At: now, Message: u.Error})
			}
		}
		if len(u.Result) > 0 {
			if rec.Results == nil {
				rec.Results = make(map[string]any, len(u.Result))
			}
			for k, v := range u.Result {
				rec.Results[k] = v
			}
		}
		rec.UpdatedAt = now
		return nil
	})
}

// List returns jobs matching opts, newest first. A non-positive Limit means DefaultListLimit.
func (m *Manager) List(opts ListOptions) []*Record {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	recs := m.store.List(func(r *Record) bool {
		if opts.Owner != "" && r.Owner != opts.Owner {
			return false
		}
		if opts.Status != "" && r.Status != opts.Status {
			return false
		}
		return true
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// Delete removes the job. Running orchestration for it is not stopped.
func (m *Manager) Delete(id string) bool {
	return m.store.Delete(id)
}
