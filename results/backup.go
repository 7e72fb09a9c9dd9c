package results

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/proofy/proofy-go/cache"
)

// ResultsFileName is the canonical backup file in the output directory.
const ResultsFileName = "results.json"

// ArchiveFileName is the attachment archive in the output directory.
const ArchiveFileName = "artifacts.zip"

// backupPayload is the on-disk backup document.
type backupPayload struct {
	Count int               `json:"count"`
	Items []json.RawMessage `json:"items"`
}

// BackupResults serializes every currently-known result to
// <output_dir>/results.json, or results_<worker_id>.json on a worker
// process. Backups are best-effort: failures are logged, never returned.
func (h *Handler) BackupResults() {
	if err := h.writeBackup(); err != nil {
		h.logger.Error().Err(err).Msg("Failed to backup results locally")
	}
}

func (h *Handler) writeBackup() error {
	if err := os.MkdirAll(h.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	results := h.ctx.Results()
	payload := backupPayload{Count: len(results), Items: make([]json.RawMessage, 0, len(results))}
	for _, result := range results {
		item, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode result %q: %w", result.ID, err)
		}
		payload.Items = append(payload.Items, item)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	file := filepath.Join(h.cfg.OutputDir, ResultsFileName)
	if h.cfg.WorkerID != "" {
		file = filepath.Join(h.cfg.OutputDir, fmt.Sprintf("results_%s.json", h.cfg.WorkerID))
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	h.logger.Info().Str("file", file).Int("count", payload.Count).Msg("Results backed up")
	return nil
}

// MergeWorkerResults merges per-worker partial backups on the
// coordinating process, then packages cached attachments when backups are
// enabled. It assumes all workers have fully exited; the surrounding test
// runner's worker-join semantics must guarantee that.
func (h *Handler) MergeWorkerResults() error {
	merged, err := MergeWorkerResults(h.cfg.OutputDir, h.logger)
	if err != nil {
		return err
	}
	if merged == 0 {
		return nil
	}
	if h.cfg.AlwaysBackup {
		if _, err := ArchiveAttachments(h.cfg.OutputDir, h.logger); err != nil {
			h.logger.Error().Err(err).Msg("Failed to archive attachments")
		}
	}
	return nil
}

// MergeWorkerResults scans outputDir for results_<worker_id>.json files,
// concatenates their items into the canonical results.json, and deletes
// the worker partials. It returns the number of merged results.
func MergeWorkerResults(outputDir string, logger zerolog.Logger) (int, error) {
	workerFiles, err := filepath.Glob(filepath.Join(outputDir, "results_*.json"))
	if err != nil {
		return 0, fmt.Errorf("failed to scan output directory: %w", err)
	}
	if len(workerFiles) == 0 {
		return 0, nil
	}

	var items []json.RawMessage
	for _, workerFile := range workerFiles {
		data, err := os.ReadFile(workerFile)
		if err != nil {
			logger.Error().Err(err).Str("file", workerFile).Msg("Failed to read worker results")
			continue
		}
		var payload backupPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			logger.Error().Err(err).Str("file", workerFile).Msg("Failed to parse worker results")
			continue
		}
		items = append(items, payload.Items...)
	}

	data, err := json.MarshalIndent(backupPayload{Count: len(items), Items: items}, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode merged results: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, ResultsFileName), data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write merged results: %w", err)
	}

	for _, workerFile := range workerFiles {
		if err := os.Remove(workerFile); err != nil {
			logger.Warn().Err(err).Str("file", workerFile).Msg("Failed to remove worker results file")
		}
	}

	logger.Info().Int("count", len(items)).Int("workers", len(workerFiles)).Msg("Merged worker results")
	return len(items), nil
}

// ArchiveAttachments packages all cached attachments into
// <outputDir>/artifacts.zip under an attachments/ root. An empty archive
// is discarded. Returns the archive path, or "" when nothing was
// archived.
func ArchiveAttachments(outputDir string, logger zerolog.Logger) (string, error) {
	cacheDir := filepath.Join(outputDir, cache.DirName)
	archivePath := filepath.Join(outputDir, ArchiveFileName)

	archive, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	writer := zip.NewWriter(archive)

	count := 0
	walkErr := filepath.WalkDir(cacheDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(cacheDir, path)
		if err != nil {
			return err
		}
		entry, err := writer.Create(filepath.ToSlash(filepath.Join("attachments", rel)))
		if err != nil {
			return err
		}
		source, err := os.Open(path)
		if err != nil {
			return err
		}
		defer source.Close()
		if _, err := io.Copy(entry, source); err != nil {
			return err
		}
		count++
		return nil
	})

	closeErr := writer.Close()
	if err := archive.Close(); closeErr == nil {
		closeErr = err
	}

	if walkErr != nil || closeErr != nil || count == 0 {
		os.Remove(archivePath)
		if walkErr != nil {
			return "", fmt.Errorf("failed to archive attachments: %w", walkErr)
		}
		if closeErr != nil {
			return "", fmt.Errorf("failed to finish archive: %w", closeErr)
		}
		return "", nil
	}

	logger.Info().Str("archive", archivePath).Int("count", count).Msg("Archived cached attachments")
	return archivePath, nil
}
