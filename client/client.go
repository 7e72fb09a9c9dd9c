// Package client talks to the reporting service API. The API interface is
// the seam the delivery pipeline is written against; Client is the HTTP
// implementation.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/proofy/proofy-go/model"
)

// ArtifactType identifies the kind of uploaded artifact.
type ArtifactType int

const (
	ArtifactTrace ArtifactType = iota + 1
	ArtifactScreenshot
	ArtifactLog
	ArtifactVideo
	ArtifactAttachment
	ArtifactOther
)

// API is the surface of the reporting service consumed by the delivery
// pipeline.
type API interface {
	// CreateRun creates a run and returns the server-assigned run ID.
	CreateRun(projectID int64, name string, startedAt time.Time, attributes map[string]any) (int64, error)
	// UpdateRun patches a run and returns the HTTP status code.
	UpdateRun(runID int64, upd RunUpdate) (int, error)
	// CreateResult creates a result and returns the server-assigned
	// result ID.
	CreateResult(runID int64, req ResultCreate) (int64, error)
	// UpdateResult patches a result and returns the HTTP status code.
	UpdateResult(runID, resultID int64, upd ResultUpdate) (int, error)
	// PresignArtifact requests an upload slot for an artifact.
	PresignArtifact(runID, resultID int64, req PresignRequest) (*Presign, error)
	// FinalizeArtifact confirms a completed upload and returns the HTTP
	// status code.
	FinalizeArtifact(runID, resultID, artifactID int64) (int, error)
	// UploadArtifactFile runs presign, PUT-to-storage and finalize with a
	// pre-computed size and hash.
	UploadArtifactFile(runID, resultID int64, up ArtifactUpload) (*UploadResult, error)
	// UploadArtifact is like UploadArtifactFile but computes size, hash
	// and MIME type from the source.
	UploadArtifact(runID, resultID int64, up ArtifactUpload) (*UploadResult, error)
}

// RunUpdate is a partial run update. Status and EndedAt must be provided
// together; an empty update is rejected.
type RunUpdate struct {
	Name       string
	Status     model.RunStatus
	EndedAt    time.Time
	Attributes map[string]any
}

// Validate enforces the API's update rules client-side.
func (u *RunUpdate) Validate() error {
	if (u.Status != 0) != (!u.EndedAt.IsZero()) {
		return errors.New("status and ended_at must be provided together")
	}
	if u.Name == "" && u.Status == 0 && u.EndedAt.IsZero() && len(u.Attributes) == 0 {
		return errors.New("no fields to update were provided")
	}
	return nil
}

// ResultCreate is the payload for creating a result.
type ResultCreate struct {
	Name       string
	Path       string
	Status     model.ResultStatus
	StartedAt  time.Time
	EndedAt    time.Time
	DurationMS *int64
	Message    string
	Attributes map[string]any
}

// ResultUpdate is a partial result update. A terminal status requires
// EndedAt; an empty update is rejected.
type ResultUpdate struct {
	Status     model.ResultStatus
	EndedAt    time.Time
	DurationMS *int64
	Message    string
	Attributes map[string]any
}

// Validate enforces the API's update rules client-side.
func (u *ResultUpdate) Validate() error {
	if u.Status == 0 && u.EndedAt.IsZero() && u.DurationMS == nil && u.Message == "" && len(u.Attributes) == 0 {
		return errors.New("no fields to update were provided")
	}
	if u.Status != 0 && u.EndedAt.IsZero() {
		return errors.New("setting a terminal status requires ended_at")
	}
	if u.DurationMS != nil && *u.DurationMS < 0 {
		return errors.New("duration_ms must be >= 0 when provided")
	}
	return nil
}

// PresignRequest describes the artifact about to be uploaded.
type PresignRequest struct {
	Filename  string       `json:"filename"`
	MimeType  string       `json:"mime_type"`
	SizeBytes int64        `json:"size_bytes"`
	SHA256    string       `json:"hash_sha256"`
	Type      ArtifactType `json:"type"`
}

// PresignUpload carries the storage upload instructions.
type PresignUpload struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// Presign is the response to a presign request.
type Presign struct {
	ArtifactID int64         `json:"artifact_id"`
	Upload     PresignUpload `json:"upload"`
}

// ArtifactUpload is a normalized artifact source: either a local file path
// or in-memory bytes, never both.
type ArtifactUpload struct {
	// Path to the local file to upload; empty when Data is set
	Path string
	// In-memory content; nil when Path is set
	Data []byte
	// Display filename sent to the server
	Filename string
	// MIME type; guessed from Filename when empty (UploadArtifact only)
	MimeType string
	// Pre-computed size and hash (UploadArtifactFile only)
	SizeBytes int64
	SHA256    string
	// Artifact kind
	Type ArtifactType
}

// UploadResult reports a completed artifact upload.
type UploadResult struct {
	ArtifactID int64
	StatusCode int
}

// rfc3339 formats a timestamp the way the API expects.
func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// StringifyAttributes coerces attribute keys and values to strings.
// Strings pass through, timestamps become RFC 3339, and composite values
// are JSON-encoded.
func StringifyAttributes(attributes map[string]any) map[string]string {
	result := make(map[string]string, len(attributes))
	for key, value := range attributes {
		switch v := value.(type) {
		case string:
			result[key] = v
		case time.Time:
			result[key] = rfc3339(v)
		case map[string]any, []any, []string:
			data, err := json.Marshal(v)
			if err != nil {
				result[key] = fmt.Sprintf("%v", v)
				continue
			}
			result[key] = string(data)
		default:
			result[key] = fmt.Sprintf("%v", v)
		}
	}
	return result
}
