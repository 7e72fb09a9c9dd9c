package client

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const userAgent = "proofy-go-0.1.0/client"

// Client is the HTTP implementation of API against the /v1 endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ API = (*Client)(nil)

// New creates a client for the given base URL. The token is sent as a
// bearer token when non-empty.
func New(baseURL, token string, timeout time.Duration) *Client {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreateRun(projectID int64, name string, startedAt time.Time, attributes map[string]any) (int64, error) {
	body := map[string]any{
		"project_id": projectID,
		"name":       name,
	}
	if !startedAt.IsZero() {
		body["started_at"] = rfc3339(startedAt)
	}
	if len(attributes) > 0 {
		body["attributes"] = StringifyAttributes(attributes)
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	if _, err := c.doJSON(http.MethodPost, "/v1/runs", body, &resp); err != nil {
		return 0, err
	}
	if resp.ID == 0 {
		return 0, errors.New("'id' not found in create run response")
	}
	return resp.ID, nil
}

func (c *Client) UpdateRun(runID int64, upd RunUpdate) (int, error) {
	if err := upd.Validate(); err != nil {
		return 0, err
	}

	body := map[string]any{}
	if upd.Name != "" {
		body["name"] = upd.Name
	}
	if upd.Status != 0 {
		body["status"] = int(upd.Status)
	}
	if !upd.EndedAt.IsZero() {
		body["ended_at"] = rfc3339(upd.EndedAt)
	}
	if len(upd.Attributes) > 0 {
		body["attributes"] = StringifyAttributes(upd.Attributes)
	}

	return c.doJSON(http.MethodPatch, fmt.Sprintf("/v1/runs/%d", runID), body, nil)
}

func (c *Client) CreateResult(runID int64, req ResultCreate) (int64, error) {
	body := map[string]any{
		"name": req.Name,
		"path": req.Path,
	}
	if req.Status != 0 {
		body["status"] = int(req.Status)
	}
	if !req.StartedAt.IsZero() {
		body["started_at"] = rfc3339(req.StartedAt)
	}
	if !req.EndedAt.IsZero() {
		body["ended_at"] = rfc3339(req.EndedAt)
	}
	if req.DurationMS != nil && *req.DurationMS >= 0 {
		body["duration_ms"] = *req.DurationMS
	}
	if req.Message != "" {
		body["message"] = req.Message
	}
	if len(req.Attributes) > 0 {
		body["attributes"] = StringifyAttributes(req.Attributes)
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	if _, err := c.doJSON(http.MethodPost, fmt.Sprintf("/v1/runs/%d/results", runID), body, &resp); err != nil {
		return 0, err
	}
	if resp.ID == 0 {
		return 0, errors.New("'id' not found in create result response")
	}
	return resp.ID, nil
}

func (c *Client) UpdateResult(runID, resultID int64, upd ResultUpdate) (int, error) {
	if err := upd.Validate(); err != nil {
		return 0, err
	}

	body := map[string]any{}
	if upd.Status != 0 {
		body["status"] = int(upd.Status)
	}
	if !upd.EndedAt.IsZero() {
		body["ended_at"] = rfc3339(upd.EndedAt)
	}
	if upd.DurationMS != nil {
		body["duration_ms"] = *upd.DurationMS
	}
	if upd.Message != "" {
		body["message"] = upd.Message
	}
	if len(upd.Attributes) > 0 {
		body["attributes"] = StringifyAttributes(upd.Attributes)
	}

	return c.doJSON(http.MethodPatch, fmt.Sprintf("/v1/runs/%d/results/%d", runID, resultID), body, nil)
}

func (c *Client) PresignArtifact(runID, resultID int64, req PresignRequest) (*Presign, error) {
	if req.SizeBytes <= 0 {
		return nil, errors.New("size_bytes must be > 0")
	}

	var resp Presign
	path := fmt.Sprintf("/v1/runs/%d/results/%d/artifacts/presign", runID, resultID)
	if _, err := c.doJSON(http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) FinalizeArtifact(runID, resultID, artifactID int64) (int, error) {
	path := fmt.Sprintf("/v1/runs/%d/results/%d/artifacts/%d/finalize", runID, resultID, artifactID)
	return c.doJSON(http.MethodPost, path, nil, nil)
}

func (c *Client) UploadArtifactFile(runID, resultID int64, up ArtifactUpload) (*UploadResult, error) {
	presign, err := c.PresignArtifact(runID, resultID, PresignRequest{
		Filename:  up.Filename,
		MimeType:  up.MimeType,
		SizeBytes: up.SizeBytes,
		SHA256:    up.SHA256,
		Type:      up.Type,
	})
	if err != nil {
		return nil, err
	}
	if presign.Upload.Method != http.MethodPut || presign.Upload.URL == "" {
		return nil, errors.New("invalid presign response: missing PUT upload URL")
	}

	if err := c.putToStorage(presign.Upload, up); err != nil {
		return nil, err
	}

	status, err := c.FinalizeArtifact(runID, resultID, presign.ArtifactID)
	if err != nil {
		return nil, err
	}
	return &UploadResult{ArtifactID: presign.ArtifactID, StatusCode: status}, nil
}

func (c *Client) UploadArtifact(runID, resultID int64, up ArtifactUpload) (*UploadResult, error) {
	if up.Filename == "" {
		if up.Path == "" {
			return nil, errors.New("filename is required when uploading bytes")
		}
		up.Filename = filepath.Base(up.Path)
	}
	if up.MimeType == "" {
		up.MimeType = mime.TypeByExtension(filepath.Ext(up.Filename))
		if up.MimeType == "" {
			up.MimeType = "application/octet-stream"
		}
	}

	if up.Path != "" {
		file, err := os.Open(up.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact: %w", err)
		}
		hash := sha256.New()
		size, err := io.Copy(hash, file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to hash artifact: %w", err)
		}
		up.SizeBytes = size
		up.SHA256 = hex.EncodeToString(hash.Sum(nil))
	} else {
		digest := sha256.Sum256(up.Data)
		up.SizeBytes = int64(len(up.Data))
		up.SHA256 = hex.EncodeToString(digest[:])
	}

	return c.UploadArtifactFile(runID, resultID, up)
}

func (c *Client) putToStorage(upload PresignUpload, up ArtifactUpload) error {
	var body io.Reader
	if up.Path != "" {
		file, err := os.Open(up.Path)
		if err != nil {
			return fmt.Errorf("failed to open artifact: %w", err)
		}
		defer file.Close()
		body = file
	} else {
		body = bytes.NewReader(up.Data)
	}

	req, err := http.NewRequest(http.MethodPut, upload.URL, body)
	if err != nil {
		return err
	}
	for key, value := range upload.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("storage upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("storage upload failed with status %d", resp.StatusCode)
	}
	return nil
}

// doJSON issues a JSON request and decodes the response into out when
// non-nil. Non-2xx responses become errors carrying a body snippet.
func (c *Client) doJSON(method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, truncate(string(data), 200))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: malformed response body: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
