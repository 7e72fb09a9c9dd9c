package session

import (
	"io"
	"mime"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/proofy/proofy-go/cache"
	"github.com/proofy/proofy-go/config"
	"github.com/proofy/proofy-go/model"
)

// Listener observes test lifecycle transitions. Listeners are invoked
// synchronously in registration order.
type Listener interface {
	TestStarted(result *model.TestResult)
	TestFinished(result *model.TestResult)
}

// Service orchestrates session/test lifecycle transitions, mutation of the
// current test's metadata, and attachment caching decisions. All metadata
// mutators are no-ops when no test is active, so callers never need to
// guard their calls.
type Service struct {
	store     *Store
	cache     *cache.Cache
	cfg       *config.Config
	listeners []Listener
	logger    zerolog.Logger
}

// NewService creates a context service backed by the given store and
// attachment cache.
func NewService(store *Store, fileCache *cache.Cache, cfg *config.Config, logger zerolog.Logger) *Service {
	if store == nil {
		store = NewStore()
	}
	return &Service{
		store:  store,
		cache:  fileCache,
		cfg:    cfg,
		logger: logger,
	}
}

// Register adds a lifecycle listener. Registration order is notification
// order.
func (s *Service) Register(l Listener) {
	s.listeners = append(s.listeners, l)
}

// --- Session lifecycle ---

// StartSession creates a new session context with a fresh session id and
// stores it as the current session.
func (s *Service) StartSession(runID int64, runName string, runAttributes map[string]any) *Context {
	ctx := NewContext(runID, s.cfg)
	ctx.RunName = runName
	for key, value := range runAttributes {
		ctx.RunAttributes[key] = value
	}
	s.store.SetSession(ctx)
	return ctx
}

// EndSession destroys the current session context.
func (s *Service) EndSession() {
	s.store.SetSession(nil)
}

// Session returns the current session context, or nil.
func (s *Service) Session() *Context {
	return s.store.Session()
}

// CurrentTest returns the current test, or nil.
func (s *Service) CurrentTest() *model.TestResult {
	return s.store.Test()
}

// Results returns the current session's result map in insertion order.
func (s *Service) Results() []*model.TestResult {
	ctx := s.store.Session()
	if ctx == nil {
		return nil
	}
	results := make([]*model.TestResult, 0, ctx.Results.Len())
	for pair := ctx.Results.Oldest(); pair != nil; pair = pair.Next() {
		results = append(results, pair.Value)
	}
	return results
}

// Result looks up a recorded result by test id.
func (s *Service) Result(id string) *model.TestResult {
	ctx := s.store.Session()
	if ctx == nil {
		return nil
	}
	result, _ := ctx.Results.Get(id)
	return result
}

// --- Test lifecycle ---

// StartTest stores result as the current test, registers it into the
// session's result map when a session exists, and notifies listeners.
func (s *Service) StartTest(result *model.TestResult) {
	s.store.SetTest(result)
	if ctx := s.store.Session(); ctx != nil {
		ctx.Results.Set(result.ID, result)
	}
	for _, l := range s.listeners {
		l.TestStarted(result)
	}
}

// FinishTest updates the session's result map entry, notifies listeners,
// then clears the current-test pointer. Finishing without an active
// session is not an error; the result is simply not retained for later
// flushing.
func (s *Service) FinishTest(result *model.TestResult) *model.TestResult {
	if ctx := s.store.Session(); ctx != nil {
		ctx.Results.Set(result.ID, result)
	}
	for _, l := range s.listeners {
		l.TestFinished(result)
	}
	s.store.SetTest(nil)
	return result
}

// --- Test metadata mutators ---

// SetName renames the current test.
func (s *Service) SetName(name string) {
	if result := s.store.Test(); result != nil {
		result.Name = name
	}
}

// SetAttribute sets one attribute on the current test.
func (s *Service) SetAttribute(key string, value any) {
	if result := s.store.Test(); result != nil {
		result.Attributes[key] = value
	}
}

// AddAttributes merges attributes into the current test.
func (s *Service) AddAttributes(attributes map[string]any) {
	result := s.store.Test()
	if result == nil {
		return
	}
	for key, value := range attributes {
		result.Attributes[key] = value
	}
}

// AddTag appends a tag to the current test, deduplicating against
// existing tags.
func (s *Service) AddTag(tag string) {
	if result := s.store.Test(); result != nil {
		result.AddTag(tag)
	}
}

// AddTags appends tags to the current test, deduplicating each.
func (s *Service) AddTags(tags []string) {
	result := s.store.Test()
	if result == nil {
		return
	}
	for _, tag := range tags {
		result.AddTag(tag)
	}
}

// SetDescription records the description attribute on the current test.
func (s *Service) SetDescription(description string) {
	s.SetAttribute(model.AttrDescription, description)
}

// SetSeverity records the severity attribute on the current test.
func (s *Service) SetSeverity(severity string) {
	s.SetAttribute(model.AttrSeverity, severity)
}

// --- Run-level metadata ---

// SetRunAttribute sets one run-level attribute on the current session.
func (s *Service) SetRunAttribute(key string, value any) {
	if ctx := s.store.Session(); ctx != nil {
		ctx.RunAttributes[key] = value
	}
}

// AddRunAttributes merges run-level attributes into the current session.
func (s *Service) AddRunAttributes(attributes map[string]any) {
	ctx := s.store.Session()
	if ctx == nil {
		return
	}
	for key, value := range attributes {
		ctx.RunAttributes[key] = value
	}
}

// RunAttributes returns a copy of the session's run attributes.
func (s *Service) RunAttributes() map[string]any {
	ctx := s.store.Session()
	if ctx == nil {
		return map[string]any{}
	}
	copied := make(map[string]any, len(ctx.RunAttributes))
	for key, value := range ctx.RunAttributes {
		copied[key] = value
	}
	return copied
}

// --- Attachments ---

// AttachOptions carries optional attachment metadata.
type AttachOptions struct {
	// Explicit MIME type; guessed from the extension or path when empty
	MimeType string
	// File extension without the dot, used for cache file naming and MIME
	// guessing of bytes/stream sources
	Extension string
}

// source is the single tagged representation every attachment input is
// normalized into at the boundary.
type source struct {
	path   string
	data   []byte
	reader io.Reader
}

// AttachFile attaches a file by path to the current test. With caching
// enabled the file is copied into the cache and the cached path is
// stored; any caching failure falls back to the original path.
func (s *Service) AttachFile(path, name string, opts AttachOptions) {
	s.attach(source{path: path}, name, opts)
}

// AttachBytes attaches in-memory content to the current test. Bytes are
// always materialized into the cache.
func (s *Service) AttachBytes(data []byte, name string, opts AttachOptions) {
	s.attach(source{data: data}, name, opts)
}

// AttachReader attaches streamed content to the current test. The stream
// is written into the cache in a single pass.
func (s *Service) AttachReader(r io.Reader, name string, opts AttachOptions) {
	s.attach(source{reader: r}, name, opts)
}

func (s *Service) attach(src source, name string, opts AttachOptions) {
	result := s.store.Test()
	if result == nil {
		return
	}

	att := &model.Attachment{Name: name, MimeType: opts.MimeType}
	suffix := opts.Extension

	switch {
	case src.path != "":
		att.Path = src.path
		att.OriginalPath = src.path
		if s.cfg.CacheEnabled() && !cache.IsCachedPath(src.path) {
			cached, size, sha, err := s.cache.FromPath(src.path)
			if err != nil {
				s.logger.Warn().Err(err).Str("path", src.path).Str("name", name).
					Msg("Failed to cache attachment, falling back to original path")
			} else {
				att.Path = cached
				att.SizeBytes = size
				att.SHA256 = sha
			}
		}
	case src.data != nil:
		cached, size, sha, err := s.cache.FromBytes(src.data, suffix)
		if err != nil {
			s.logger.Error().Err(err).Str("name", name).Msg("Failed to attach bytes")
			return
		}
		att.Path = cached
		att.OriginalPath = "<bytes>"
		att.SizeBytes = size
		att.SHA256 = sha
	default:
		cached, size, sha, err := s.cache.FromStream(src.reader, suffix)
		if err != nil {
			s.logger.Error().Err(err).Str("name", name).Msg("Failed to attach stream")
			return
		}
		att.Path = cached
		att.OriginalPath = "<stream>"
		att.SizeBytes = size
		att.SHA256 = sha
	}

	if att.MimeType == "" {
		if opts.Extension != "" {
			att.MimeType = mime.TypeByExtension("." + opts.Extension)
		}
		if att.MimeType == "" {
			att.MimeType = mime.TypeByExtension(filepath.Ext(att.Path))
		}
	}

	result.Attachments = append(result.Attachments, att)
}
