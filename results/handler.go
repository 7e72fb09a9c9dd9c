// Package results owns the run lifecycle against the remote service and
// the delivery of finished test results. Depending on the configured mode
// a result is sent immediately (live), buffered until session end (lazy),
// or buffered until a size threshold (batch). The package also performs
// the local JSON backup and the multi-process worker merge.
package results

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/proofy/proofy-go/cache"
	"github.com/proofy/proofy-go/client"
	"github.com/proofy/proofy-go/config"
	"github.com/proofy/proofy-go/limits"
	"github.com/proofy/proofy-go/model"
	"github.com/proofy/proofy-go/session"
	"github.com/proofy/proofy-go/uploader"
)

var (
	// ErrNoSession means StartSession was not called first.
	ErrNoSession = errors.New("session not initialized, call StartSession first")
	// ErrMissingRunID means no run has been created yet.
	ErrMissingRunID = errors.New("run id not found, call StartRun first")
	// ErrMissingProject means a run cannot be created without a project.
	ErrMissingProject = errors.New("project id is required to create a run")
)

// Handler drives run and result delivery. Its buffers are not
// goroutine-safe; with threaded parallelism the caller serializes access.
type Handler struct {
	client    client.API
	cfg       *config.Config
	ctx       *session.Service
	uploader  *uploader.Uploader
	fileCache *cache.Cache
	framework string
	logger    zerolog.Logger

	runID int64
	// Batch-mode queue of finished test ids
	batch []string
}

// New wires a handler from configuration: the HTTP client (when an API
// base is configured), the attachment cache, the session service and the
// uploader. Without an API base remote delivery is disabled and only the
// local backup works.
func New(cfg *config.Config, framework string, logger zerolog.Logger) *Handler {
	var api client.API
	if cfg.APIBase != "" {
		api = client.New(cfg.APIBase, cfg.Token, cfg.Timeout)
	}
	fileCache := cache.New(cfg.OutputDir)
	ctx := session.NewService(session.NewStore(), fileCache, cfg, logger)
	return NewHandler(api, cfg, ctx, uploader.New(api, logger), fileCache, framework, logger)
}

// NewHandler creates a results handler from pre-built collaborators. A nil
// client disables remote delivery; the local backup still works.
func NewHandler(api client.API, cfg *config.Config, ctx *session.Service, up *uploader.Uploader, fileCache *cache.Cache, framework string, logger zerolog.Logger) *Handler {
	return &Handler{
		client:    api,
		cfg:       cfg,
		ctx:       ctx,
		uploader:  up,
		fileCache: fileCache,
		framework: framework,
		logger:    logger,
	}
}

// Context returns the underlying context service.
func (h *Handler) Context() *session.Service {
	return h.ctx
}

// Result looks up a recorded result by test id.
func (h *Handler) Result(id string) *model.TestResult {
	return h.ctx.Result(id)
}

// RunID returns the server-assigned run id, or 0.
func (h *Handler) RunID() int64 {
	return h.runID
}

// --- Run lifecycle ---

// StartSession initializes the session context, defaulting the run id and
// run name from configuration and preparing clamped run attributes. On the
// coordinating process the attachment cache is cleared so stale files from
// previous runs do not end up in this run's archive.
func (h *Handler) StartSession(runID int64) *session.Context {
	if runID == 0 {
		runID = h.cfg.RunID
	}
	runName := h.cfg.RunName
	if runName == "" {
		runName = fmt.Sprintf("Test run %s-%s", h.framework, time.Now().UTC().Format(time.RFC3339))
	}

	attrs := limits.ClampAttributes(map[string]any{
		model.AttrFramework: h.framework,
	})

	if h.cfg.WorkerID == "" && h.fileCache != nil {
		if err := h.fileCache.Clear(); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to clear attachment cache")
		}
	}

	ctx := h.ctx.StartSession(runID, runName, attrs)
	h.runID = runID
	return ctx
}

// EndSession destroys the session context.
func (h *Handler) EndSession() {
	h.ctx.EndSession()
}

// StartRun creates the remote run, or refreshes an existing one when the
// session already carries a run id (a worker process attaching to the
// coordinator's run). Failure to create is fatal and returned to the
// caller; there is no retry at this layer.
func (h *Handler) StartRun() (int64, error) {
	ctx := h.ctx.Session()
	if ctx == nil {
		return 0, ErrNoSession
	}
	if h.client == nil {
		return ctx.RunID, nil
	}
	if h.cfg.ProjectID == 0 {
		return 0, ErrMissingProject
	}

	if ctx.RunID != 0 {
		// The run exists already; only refresh name and attributes. The
		// API rejects a status change without ended_at, so the status is
		// left alone until FinishRun.
		if _, err := h.client.UpdateRun(ctx.RunID, client.RunUpdate{
			Name:       ctx.RunName,
			Attributes: h.ctx.RunAttributes(),
		}); err != nil {
			return 0, fmt.Errorf("failed to update run %d: %w", ctx.RunID, err)
		}
		h.runID = ctx.RunID
		return ctx.RunID, nil
	}

	runID, err := h.client.CreateRun(h.cfg.ProjectID, ctx.RunName, time.Now(), h.ctx.RunAttributes())
	if err != nil {
		return 0, fmt.Errorf("run %q creation failed for project %d: %w", ctx.RunName, h.cfg.ProjectID, err)
	}
	ctx.RunID = runID
	h.runID = runID
	return runID, nil
}

// FinishRun flushes buffered results, then marks the run finished
// remotely with the total result count. Flush failures are logged but do
// not prevent the finalize call.
func (h *Handler) FinishRun(status model.RunStatus, errorMessage string) error {
	if h.client == nil {
		return nil
	}

	if err := h.Flush(); err != nil {
		h.logger.Error().Err(err).Msg("Failed to flush results")
	}

	ctx := h.ctx.Session()
	runID := h.runID
	if runID == 0 && ctx != nil {
		runID = ctx.RunID
	}
	if runID == 0 {
		return ErrMissingRunID
	}

	if errorMessage != "" {
		h.ctx.SetRunAttribute(model.AttrErrorMessage, errorMessage)
	}

	attrs := limits.ClampAttributes(h.ctx.RunAttributes())
	attrs["total_results"] = len(h.ctx.Results())

	runName := ""
	if ctx != nil {
		runName = ctx.RunName
	}

	if _, err := h.client.UpdateRun(runID, client.RunUpdate{
		Name:       runName,
		Status:     status,
		EndedAt:    time.Now(),
		Attributes: attrs,
	}); err != nil {
		return fmt.Errorf("failed to finalize run %d: %w", runID, err)
	}
	h.logger.Info().Int64("run_id", runID).Stringer("status", status).Msg("Run finalized")
	return nil
}

// --- Result delivery ---

// OnTestStarted registers the test as current. In live mode it also
// optimistically creates the server-side result; a failure there is
// logged, never raised, so test execution is not blocked by a reporting
// failure.
func (h *Handler) OnTestStarted(result *model.TestResult) {
	if result.RunID == 0 {
		result.RunID = h.runID
	}

	if h.cfg.Mode == config.ModeLive && h.client != nil && result.RunID != 0 {
		if err := h.sendResult(result); err != nil {
			h.logger.Error().Err(err).Str("test", result.ID).Msg("Failed to create result in live mode")
		}
	}

	h.ctx.StartTest(result)
}

// OnTestFinished delivers or records the finished result according to
// mode. In live mode a delivery failure is returned to the caller; the
// current-test pointer is cleared regardless of outcome.
func (h *Handler) OnTestFinished(result *model.TestResult) error {
	if result.RunID == 0 {
		result.RunID = h.runID
	}

	switch h.cfg.Mode {
	case config.ModeLive:
		err := h.deliverLive(result)
		h.ctx.FinishTest(result)
		return err
	case config.ModeLazy:
		h.ctx.FinishTest(result)
		return nil
	case config.ModeBatch:
		h.ctx.FinishTest(result)
		h.batch = append(h.batch, result.ID)
		if len(h.batch) >= h.cfg.BatchSize {
			h.SendBatch()
		}
		return nil
	}
	return fmt.Errorf("invalid mode %q", h.cfg.Mode)
}

// Flush sends everything still buffered. Live mode buffers nothing.
func (h *Handler) Flush() error {
	switch h.cfg.Mode {
	case config.ModeBatch:
		h.SendBatch()
	case config.ModeLazy:
		h.sendLazy()
	}
	return nil
}

// SendBatch sends the queued batch and clears the queue. Individual
// failures are logged and marked on the result, never aborting the rest
// of the batch.
func (h *Handler) SendBatch() {
	if h.client == nil || h.cfg.Mode != config.ModeBatch || len(h.batch) == 0 {
		return
	}
	for _, id := range h.batch {
		result := h.ctx.Result(id)
		if result == nil {
			h.logger.Warn().Str("test", id).Msg("Skipping missing result during batch send")
			continue
		}
		h.deliverBuffered(result)
	}
	h.batch = h.batch[:0]
}

// BatchLen returns the number of queued batch entries.
func (h *Handler) BatchLen() int {
	return len(h.batch)
}

func (h *Handler) sendLazy() {
	if h.client == nil {
		return
	}
	for _, result := range h.ctx.Results() {
		h.deliverBuffered(result)
	}
}

// deliverLive creates the result when it has no server id yet (covers a
// skipped or failed start-time creation), then sends the final update and
// uploads artifacts.
func (h *Handler) deliverLive(result *model.TestResult) error {
	if result.ResultID == 0 {
		if err := h.sendResult(result); err != nil {
			return err
		}
	} else if result.ReportingStatus == model.ReportingInitialized {
		if err := h.updateResult(result); err != nil {
			return err
		}
	}

	if err := h.uploadArtifacts(result); err != nil {
		result.ReportingStatus = model.ReportingFailed
		return err
	}
	result.ReportingStatus = model.ReportingFinished
	return nil
}

// deliverBuffered is the continue-on-error delivery used by the lazy and
// batch flush loops.
func (h *Handler) deliverBuffered(result *model.TestResult) {
	var err error
	if result.ResultID == 0 {
		err = h.sendResult(result)
	} else {
		err = h.updateResult(result)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("test", result.ID).Msg("Failed to send result")
		return
	}

	if err := h.uploadArtifacts(result); err != nil {
		result.ReportingStatus = model.ReportingFailed
		h.logger.Error().Err(err).Str("test", result.ID).Msg("Failed to upload artifacts")
		return
	}
	result.ReportingStatus = model.ReportingFinished
}

// sendResult creates the result server-side and records the assigned id.
// The result id is set exactly once; sendResult is only entered while it
// is still zero.
func (h *Handler) sendResult(result *model.TestResult) error {
	if result.RunID == 0 {
		result.ReportingStatus = model.ReportingFailed
		return fmt.Errorf("result %q: %w", result.ID, ErrMissingRunID)
	}

	req := client.ResultCreate{
		Name:       limits.ClampString(result.Name, limits.NameLimit),
		Path:       limits.ClampString(result.Path, limits.PathLimit),
		Status:     result.Status,
		StartedAt:  result.StartedAt,
		EndedAt:    result.EndedAt,
		Message:    limits.ClampString(result.Message, limits.MessageLimit),
		Attributes: result.MergeMetadata(),
	}
	if ms, ok := result.EffectiveDurationMS(); ok {
		req.DurationMS = &ms
	}

	resultID, err := h.client.CreateResult(result.RunID, req)
	if err != nil {
		result.ReportingStatus = model.ReportingFailed
		return fmt.Errorf("failed to send result for run %d: %w", result.RunID, err)
	}

	result.ResultID = resultID
	result.ReportingStatus = model.ReportingInitialized
	return nil
}

// updateResult patches the already-created result with final status and
// timing.
func (h *Handler) updateResult(result *model.TestResult) error {
	upd := client.ResultUpdate{
		Status:     result.Status,
		EndedAt:    result.EndedAt,
		Message:    limits.ClampString(result.Message, limits.MessageLimit),
		Attributes: result.MergeMetadata(),
	}
	if ms, ok := result.EffectiveDurationMS(); ok {
		upd.DurationMS = &ms
	}

	if _, err := h.client.UpdateResult(result.RunID, result.ResultID, upd); err != nil {
		result.ReportingStatus = model.ReportingFailed
		return fmt.Errorf("failed to update result %d for run %d: %w", result.ResultID, result.RunID, err)
	}
	return nil
}

func (h *Handler) uploadArtifacts(result *model.TestResult) error {
	if err := h.uploader.UploadTraceback(result); err != nil {
		return err
	}
	for _, att := range result.Attachments {
		if err := h.uploader.UploadAttachment(result, att); err != nil {
			return err
		}
	}
	return nil
}
