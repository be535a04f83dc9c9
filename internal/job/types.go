// Package job holds job records, the in-memory store and the lifecycle manager.
package job

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// DefaultLocale is used when a submission carries no locale.
const DefaultLocale = "en-US"

// Request is a brief submission.
type Request struct {
	JobID      string `json:"job_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	TextPrompt string `json:"text_prompt"`
	ImageURL   string `json:"image_url,omitempty"`
	Meta       *Meta  `json:"meta,omitempty"`
}

// Meta is optional metadata attached to a submission.
type Meta struct {
	ProductName        string    `json:"product_name,omitempty"`
	Locale             string    `json:"locale,omitempty"`
	TargetPlatforms    Platforms `json:"target_platforms,omitempty"`
	AutoPublish        bool      `json:"auto_publish"`
	BrandGuidelinesURL string    `json:"brand_guidelines_url,omitempty"`
}

// Platforms is a list of target platform names. In JSON it may be given
// either as an array or as a single comma separated string.
type Platforms []string

// UnmarshalJSON accepts ["a","b"] or "a,b".
func (p *Platforms) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*p = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("target_platforms must be a list or a comma separated string")
	}
	*p = SplitPlatforms(joined)
	return nil
}

// SplitPlatforms splits a comma separated platform string, dropping blanks.
func SplitPlatforms(s string) Platforms {
	var out Platforms
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LocaleOrDefault returns the locale of m, or DefaultLocale when unset.
func (m *Meta) LocaleOrDefault() string {
	if m == nil || m.Locale == "" {
		return DefaultLocale
	}
	return m.Locale
}

// PlatformList returns the target platforms of m, never nil.
func (m *Meta) PlatformList() []string {
	if m == nil || len(m.TargetPlatforms) == 0 {
		return []string{}
	}
	return slices.Clone(m.TargetPlatforms)
}

// ProductNameOrEmpty returns the product name of m.
func (m *Meta) ProductNameOrEmpty() string {
	if m == nil {
		return ""
	}
	return m.ProductName
}

func (m *Meta) clone() *Meta {
	if m == nil {
		return nil
	}
	c := *m
	c.TargetPlatforms = slices.Clone(m.TargetPlatforms)
	return &c
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	c := *r
	c.Meta = r.Meta.clone()
	return &c
}

// ErrorEntry is one timestamped line of a job's error log.
type ErrorEntry struct {
	At      time.Time
	Message string
}

func (e ErrorEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.At.UTC().Format(time.RFC3339Nano), e.Message)
}

// Record is the stored state of one job.
type Record struct {
	ID        string
	Owner     string
	Brief     string
	ImageURL  string
	Meta      *Meta
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Errors    []ErrorEntry   // append-only
	Results   map[string]any // nil until the first merge

	seq uint64 // insertion order, breaks CreatedAt ties
}

// LastError returns the most recent error-log entry, or "" when the log is empty.
func (r *Record) LastError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[len(r.Errors)-1].String()
}

// HasResults reports whether any result has been merged into the record.
func (r *Record) HasResults() bool {
	return r.Results != nil
}

// Request rebuilds the submission the record was created from.
func (r *Record) Request() *Request {
	return &Request{
		JobID:      r.ID,
		UserID:     r.Owner,
		TextPrompt: r.Brief,
		ImageURL:   r.ImageURL,
		Meta:       r.Meta.clone(),
	}
}

// clone copies r so the caller can read it without holding the store lock.
// Result values are shared; they are treated as immutable once merged.
func (r *Record) clone() *Record {
	c := *r
	c.Meta = r.Meta.clone()
	c.Errors = slices.Clone(r.Errors)
	if r.Results != nil {
		c.Results = maps.Clone(r.Results)
	}
	return &c
}

// Update describes a mutation applied by Manager.Update.
// A zero Status leaves the status unchanged.
type Update struct {
	Status Status
	Error  string
	Result map[string]any
}

// ListOptions filters Manager.List. Zero values disable a filter.
type ListOptions struct {
	Owner  string
	Status Status
	Limit  int
}
