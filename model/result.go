package model

import (
	"encoding/json"
	"time"

	"github.com/proofy/proofy-go/limits"
)

// ResultStatus represents the pass/fail outcome of a single test.
type ResultStatus int

const (
	StatusPassed ResultStatus = iota + 1
	StatusFailed
	StatusBroken
	StatusSkipped
	StatusInProgress
)

func (s ResultStatus) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusBroken:
		return "broken"
	case StatusSkipped:
		return "skipped"
	case StatusInProgress:
		return "in_progress"
	}
	return "unknown"
}

// ReportingStatus tracks where a result is in the delivery pipeline. It is
// distinct from the test's own pass/fail outcome.
type ReportingStatus int

const (
	// ReportingUnsent means the result has not been sent yet.
	ReportingUnsent ReportingStatus = iota
	// ReportingInitialized means the result was created server-side and a
	// result ID was assigned.
	ReportingInitialized
	// ReportingFinished means the final update (and artifact uploads) went
	// through.
	ReportingFinished
	// ReportingFailed means a send or update step failed.
	ReportingFailed
)

func (s ReportingStatus) String() string {
	switch s {
	case ReportingUnsent:
		return "unsent"
	case ReportingInitialized:
		return "initialized"
	case ReportingFinished:
		return "finished"
	case ReportingFailed:
		return "failed"
	}
	return "unknown"
}

// Predefined attribute keys used across integrations to mark special
// metadata fields.
const (
	AttrDescription      = "__proofy_description"
	AttrSeverity         = "severity"
	AttrTags             = "__proofy_tags"
	AttrParameters       = "__proofy_parameters"
	AttrMarkers          = "__proofy_markers"
	AttrFramework        = "__proofy_framework"
	AttrFrameworkVersion = "__proofy_framework_version"
	AttrErrorMessage     = "__proofy_error_message"
)

// Attachment is a file attached to a test result. A non-zero RemoteID
// means the attachment was already uploaded and must not be re-uploaded or
// re-cached.
type Attachment struct {
	// Display name
	Name string `json:"name"`
	// Local file location, possibly inside the cache directory
	Path string `json:"path"`
	// Source location; "<bytes>" or "<stream>" when no filesystem source
	// existed
	OriginalPath string `json:"original_path,omitempty"`
	// MIME type, if known
	MimeType string `json:"mime_type,omitempty"`
	// Content size in bytes (0 when unknown)
	SizeBytes int64 `json:"size_bytes,omitempty"`
	// Hex-encoded SHA-256 of the content (empty when unknown)
	SHA256 string `json:"sha256,omitempty"`
	// Server-assigned artifact ID once uploaded
	RemoteID int64 `json:"remote_id,omitempty"`
}

// Uploaded reports whether the attachment already has a server-assigned
// artifact ID.
func (a *Attachment) Uploaded() bool {
	return a.RemoteID != 0
}

// TestResult is one test execution record. It is created at test start,
// mutated during execution and finalized when the test ends. ResultID is
// set at most once; once assigned, subsequent sends are updates.
type TestResult struct {
	// Locally-generated stable identifier (e.g. the fully-qualified test
	// name)
	ID string `json:"id"`
	// Display name
	Name string `json:"name"`
	// Test location (file path / node path)
	Path string `json:"path"`
	// Owning run (server-assigned, 0 until known)
	RunID int64 `json:"run_id,omitempty"`
	// Server-assigned result ID (0 until first successfully sent)
	ResultID int64 `json:"result_id,omitempty"`
	// Test outcome
	Status ResultStatus `json:"status,omitempty"`
	// Execution timestamps
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	// Execution duration in milliseconds (derived from the timestamps when
	// zero)
	DurationMS int64 `json:"duration_ms,omitempty"`
	// Failure detail
	Message   string `json:"message,omitempty"`
	Traceback string `json:"traceback,omitempty"`
	// Ordered set of tags, no duplicates
	Tags []string `json:"tags,omitempty"`
	// Metadata maps merged at send time
	Attributes map[string]any `json:"attributes,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Markers    []string       `json:"markers,omitempty"`
	// Attached files
	Attachments []*Attachment `json:"attachments,omitempty"`
	// Delivery pipeline state
	ReportingStatus ReportingStatus `json:"reporting_status"`
}

// NewTestResult creates an in-memory result for a started test.
func NewTestResult(id, name, path string) *TestResult {
	return &TestResult{
		ID:         id,
		Name:       name,
		Path:       path,
		Status:     StatusInProgress,
		Attributes: map[string]any{},
		Metadata:   map[string]any{},
		Parameters: map[string]any{},
	}
}

// AddTag appends tag unless it is already present.
func (r *TestResult) AddTag(tag string) bool {
	for _, existing := range r.Tags {
		if existing == tag {
			return false
		}
	}
	r.Tags = append(r.Tags, tag)
	return true
}

// EffectiveDurationMS returns the duration in milliseconds, deriving it
// from the timestamps when not set explicitly. The second return value is
// false when no duration can be determined.
func (r *TestResult) EffectiveDurationMS() (int64, bool) {
	if r.DurationMS > 0 {
		return r.DurationMS, true
	}
	if !r.StartedAt.IsZero() && !r.EndedAt.IsZero() {
		return r.EndedAt.Sub(r.StartedAt).Milliseconds(), true
	}
	return 0, false
}

// MergeMetadata merges metadata, clamped attributes, tags, parameters and
// markers into the unified attribute map sent to the server. Tags,
// parameters and markers are JSON-encoded under their predefined keys.
func (r *TestResult) MergeMetadata() map[string]any {
	merged := map[string]any{}
	for key, value := range r.Metadata {
		merged[key] = value
	}
	for key, value := range limits.ClampAttributes(r.Attributes) {
		merged[key] = value
	}

	if len(r.Tags) > 0 {
		merged[AttrTags] = mustJSON(limits.LimitListStrings(r.Tags, limits.AttributeValueLimit))
	}
	if len(r.Parameters) > 0 {
		merged[AttrParameters] = mustJSON(limits.LimitMapStrings(r.Parameters, limits.AttributeValueLimit))
	}
	if len(r.Markers) > 0 {
		merged[AttrMarkers] = mustJSON(limits.LimitListStrings(r.Markers, limits.AttributeValueLimit))
	}
	return merged
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
