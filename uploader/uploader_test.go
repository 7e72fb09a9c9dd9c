package uploader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/proofy/proofy-go/cache"
	"github.com/proofy/proofy-go/client"
	"github.com/proofy/proofy-go/model"
)

// fakeAPI records upload calls and lets each path fail on demand.
type fakeAPI struct {
	fileCalls []client.ArtifactUpload
	slowCalls []client.ArtifactUpload
	artifact  int64
	status    int
	err       error
}

func (f *fakeAPI) CreateRun(int64, string, time.Time, map[string]any) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeAPI) UpdateRun(int64, client.RunUpdate) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeAPI) CreateResult(int64, client.ResultCreate) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeAPI) UpdateResult(int64, int64, client.ResultUpdate) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeAPI) PresignArtifact(int64, int64, client.PresignRequest) (*client.Presign, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAPI) FinalizeArtifact(int64, int64, int64) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeAPI) UploadArtifactFile(runID, resultID int64, up client.ArtifactUpload) (*client.UploadResult, error) {
	f.fileCalls = append(f.fileCalls, up)
	if f.err != nil {
		return nil, f.err
	}
	return &client.UploadResult{ArtifactID: f.artifact, StatusCode: f.status}, nil
}

func (f *fakeAPI) UploadArtifact(runID, resultID int64, up client.ArtifactUpload) (*client.UploadResult, error) {
	f.slowCalls = append(f.slowCalls, up)
	if f.err != nil {
		return nil, f.err
	}
	return &client.UploadResult{ArtifactID: f.artifact, StatusCode: f.status}, nil
}

func newResult() *model.TestResult {
	r := model.NewTestResult("pkg::t1", "t1", "pkg/t1")
	r.RunID = 42
	r.ResultID = 1001
	return r
}

func TestUploadAttachment_SkipsUploaded(t *testing.T) {
	api := &fakeAPI{}
	u := New(api, zerolog.Nop())

	att := &model.Attachment{Name: "done", Path: "/tmp/done.txt", RemoteID: 7}
	require.NoError(t, u.UploadAttachment(newResult(), att))
	require.Empty(t, api.fileCalls)
	require.Empty(t, api.slowCalls)
}

func TestUploadAttachment_NilClient(t *testing.T) {
	u := New(nil, zerolog.Nop())
	att := &model.Attachment{Name: "a", Path: "/tmp/a.txt"}
	require.NoError(t, u.UploadAttachment(newResult(), att))
	require.Zero(t, att.RemoteID)
}

func TestUploadAttachment_MissingIDs(t *testing.T) {
	api := &fakeAPI{artifact: 1}
	u := New(api, zerolog.Nop())

	result := newResult()
	result.ResultID = 0

	att := &model.Attachment{Name: "a", Path: "/tmp/a.txt"}
	err := u.UploadAttachment(result, att)
	require.ErrorIs(t, err, ErrMissingIDs)
	require.Empty(t, api.fileCalls)
}

func TestUploadAttachment_FastPath(t *testing.T) {
	api := &fakeAPI{artifact: 555, status: 200}
	u := New(api, zerolog.Nop())

	att := &model.Attachment{
		Name:      "screenshot",
		Path:      "/tmp/shot.png",
		SizeBytes: 1024,
		SHA256:    "abc123",
	}
	require.NoError(t, u.UploadAttachment(newResult(), att))

	// Pre-computed size and hash route through UploadArtifactFile
	require.Len(t, api.fileCalls, 1)
	require.Empty(t, api.slowCalls)
	up := api.fileCalls[0]
	require.Equal(t, int64(1024), up.SizeBytes)
	require.Equal(t, "abc123", up.SHA256)
	require.Equal(t, "image/png", up.MimeType)
	require.Equal(t, client.ArtifactAttachment, up.Type)
	require.Equal(t, int64(555), att.RemoteID)
}

func TestUploadAttachment_SlowPath(t *testing.T) {
	api := &fakeAPI{artifact: 9, status: 200}
	u := New(api, zerolog.Nop())

	att := &model.Attachment{Name: "log", Path: "/tmp/run.unknownext"}
	require.NoError(t, u.UploadAttachment(newResult(), att))

	require.Empty(t, api.fileCalls)
	require.Len(t, api.slowCalls, 1)
	require.Equal(t, "application/octet-stream", api.slowCalls[0].MimeType)
	require.Equal(t, int64(9), att.RemoteID)
}

func TestUploadAttachment_DeletesCacheOwnedFile(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir)
	path, size, sha, err := c.FromBytes([]byte("cached"), ".txt")
	require.NoError(t, err)

	api := &fakeAPI{artifact: 1, status: 200}
	u := New(api, zerolog.Nop())

	att := &model.Attachment{Name: "cached", Path: path, SizeBytes: size, SHA256: sha}
	require.NoError(t, u.UploadAttachment(newResult(), att))

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestUploadAttachment_KeepsCallerFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "user-report.html")
	require.NoError(t, os.WriteFile(src, []byte("<html/>"), 0o644))

	api := &fakeAPI{artifact: 1, status: 200}
	u := New(api, zerolog.Nop())

	att := &model.Attachment{Name: "report", Path: src, SizeBytes: 7, SHA256: "deadbeef"}
	require.NoError(t, u.UploadAttachment(newResult(), att))

	// Caller-supplied files survive a confirmed upload
	_, statErr := os.Stat(src)
	require.NoError(t, statErr)
}

func TestUploadAttachment_KeepsFileOnUnconfirmedUpload(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir)
	path, size, sha, err := c.FromBytes([]byte("cached"), ".txt")
	require.NoError(t, err)

	api := &fakeAPI{artifact: 0, status: 500}
	u := New(api, zerolog.Nop())

	att := &model.Attachment{Name: "cached", Path: path, SizeBytes: size, SHA256: sha}
	require.NoError(t, u.UploadAttachment(newResult(), att))

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestUploadAttachment_Error(t *testing.T) {
	api := &fakeAPI{err: errors.New("network down")}
	u := New(api, zerolog.Nop())

	att := &model.Attachment{Name: "a", Path: "/tmp/a.txt", SizeBytes: 1, SHA256: "x"}
	err := u.UploadAttachment(newResult(), att)
	require.Error(t, err)
	require.Contains(t, err.Error(), "network down")
	require.Zero(t, att.RemoteID)
}

func TestUploadTraceback(t *testing.T) {
	api := &fakeAPI{artifact: 1, status: 200}
	u := New(api, zerolog.Nop())

	result := newResult()
	result.Name = "test login / with spaces!"
	result.Traceback = "Traceback (most recent call last):\n  boom"

	require.NoError(t, u.UploadTraceback(result))
	require.Len(t, api.slowCalls, 1)

	up := api.slowCalls[0]
	require.Equal(t, "test_login___with_spaces_-traceback.txt", up.Filename)
	require.Equal(t, "text/plain", up.MimeType)
	require.Equal(t, client.ArtifactTrace, up.Type)
	require.Equal(t, result.Traceback, string(up.Data))
}

func TestUploadTraceback_SkipsWithoutTraceback(t *testing.T) {
	api := &fakeAPI{artifact: 1}
	u := New(api, zerolog.Nop())

	require.NoError(t, u.UploadTraceback(newResult()))
	require.Empty(t, api.slowCalls)
}

func TestUploadTraceback_SkipsWithoutIDs(t *testing.T) {
	api := &fakeAPI{artifact: 1}
	u := New(api, zerolog.Nop())

	result := newResult()
	result.RunID = 0
	result.Traceback = "boom"

	require.NoError(t, u.UploadTraceback(result))
	require.Empty(t, api.slowCalls)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{
			name:  "passthrough",
			in:    "simple-name_1",
			limit: 64,
			want:  "simple-name_1",
		},
		{
			name:  "special characters",
			in:    "pkg/tests.py::test_a[param]",
			limit: 64,
			want:  "pkg_tests_py__test_a_param_",
		},
		{
			name:  "truncated",
			in:    "abcdefgh",
			limit: 4,
			want:  "abcd",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, sanitizeFilename(tt.in, tt.limit))
		})
	}
}
