// Package uploader sends attachments and traceback blobs to the reporting
// service and cleans up cache-owned files after confirmed uploads.
package uploader

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/proofy/proofy-go/cache"
	"github.com/proofy/proofy-go/client"
	"github.com/proofy/proofy-go/model"
)

// ErrMissingIDs means the owning result has not been created server-side
// yet, so there is nothing to attach the artifact to.
var ErrMissingIDs = errors.New("cannot upload artifact without run and result ids")

// Uploader uploads artifacts for test results.
type Uploader struct {
	client client.API
	logger zerolog.Logger
}

// New creates an uploader. A nil client turns every upload into a no-op.
func New(api client.API, logger zerolog.Logger) *Uploader {
	return &Uploader{client: api, logger: logger}
}

// UploadAttachment uploads a single attachment. Attachments that already
// carry a remote id are skipped. On confirmed success the local file is
// deleted, but only when it is cache-owned; caller-supplied files are
// never touched. Failures are returned to the caller so the delivery
// pipeline can mark the result as failed.
func (u *Uploader) UploadAttachment(result *model.TestResult, att *model.Attachment) error {
	if u.client == nil || att.Uploaded() {
		return nil
	}
	if result.RunID == 0 || result.ResultID == 0 {
		return fmt.Errorf("attachment %q: %w", att.Name, ErrMissingIDs)
	}

	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(att.Path))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	up := client.ArtifactUpload{
		Path:     att.Path,
		Filename: att.Name,
		MimeType: mimeType,
		Type:     client.ArtifactAttachment,
	}

	var (
		resp *client.UploadResult
		err  error
	)
	if att.SizeBytes > 0 && att.SHA256 != "" {
		// Fast path: size and hash were computed during caching, the
		// server-side hashing pass is skipped
		up.SizeBytes = att.SizeBytes
		up.SHA256 = att.SHA256
		resp, err = u.client.UploadArtifactFile(result.RunID, result.ResultID, up)
	} else {
		resp, err = u.client.UploadArtifact(result.RunID, result.ResultID, up)
	}
	if err != nil {
		return fmt.Errorf("failed to upload attachment %q: %w", att.Name, err)
	}

	if resp.ArtifactID != 0 {
		att.RemoteID = resp.ArtifactID
	}

	if confirmed(resp) && cache.IsCachedPath(att.Path) {
		if err := os.Remove(att.Path); err != nil && !os.IsNotExist(err) {
			u.logger.Warn().Err(err).Str("path", att.Path).Msg("Failed to delete cached attachment")
		}
	}
	return nil
}

// UploadTraceback uploads the result's traceback text as a trace
// artifact. Results without a traceback, or not yet created server-side,
// are skipped.
func (u *Uploader) UploadTraceback(result *model.TestResult) error {
	if u.client == nil || result.Traceback == "" {
		return nil
	}
	if result.RunID == 0 || result.ResultID == 0 {
		return nil
	}

	base := result.Name
	if base == "" {
		base = result.Path
	}
	if base == "" {
		base = result.ID
	}
	if base == "" {
		base = "test"
	}
	filename := sanitizeFilename(base, 64) + "-traceback.txt"

	_, err := u.client.UploadArtifact(result.RunID, result.ResultID, client.ArtifactUpload{
		Data:     []byte(strings.ToValidUTF8(result.Traceback, "�")),
		Filename: filename,
		MimeType: "text/plain",
		Type:     client.ArtifactTrace,
	})
	if err != nil {
		return fmt.Errorf("failed to upload traceback for %q: %w", result.ID, err)
	}
	return nil
}

// sanitizeFilename keeps alphanumerics, '-' and '_', replaces everything
// else with '_', and truncates to limit characters.
func sanitizeFilename(name string, limit int) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	runes := []rune(b.String())
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}

func confirmed(resp *client.UploadResult) bool {
	if resp == nil {
		return false
	}
	if resp.ArtifactID != 0 {
		return true
	}
	switch resp.StatusCode {
	case 200, 201, 204:
		return true
	}
	return false
}
