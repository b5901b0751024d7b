package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"localdesk/internal/events"
)

const downloadChunkSize = 256 * 1024

// EmitFunc forwards one host event to the UI layer.
type EmitFunc func(event events.Event)

// pendingDownload is one worklist entry for a missing or mismatched file.
type pendingDownload struct {
	destPath       string
	downloadURL    string
	expectedSHA256 string
	expectedSize   int64
}

// Downloader fetches, verifies, and atomically installs model files.
// At most one campaign runs process-wide; a second concurrent start is
// rejected with an invalid_state error event.
type Downloader struct {
	manager  *Manager
	client   *http.Client
	emit     EmitFunc
	logger   *slog.Logger
	inFlight atomic.Bool
}

// NewDownloader creates a downloader emitting progress through emit.
func NewDownloader(manager *Manager, emit EmitFunc, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		manager: manager,
		client:  &http.Client{Timeout: 45 * time.Minute},
		emit:    emit,
		logger:  logger,
	}
}

// NewDownloaderForTests creates a downloader with an injectable HTTP client.
func NewDownloaderForTests(manager *Manager, emit EmitFunc, client *http.Client) *Downloader {
	return &Downloader{
		manager: manager,
		client:  client,
		emit:    emit,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Start launches one download campaign for the required model keys.
// The call itself succeeds for every recoverable condition; failures are
// reported through audio.models.download.error events.
func (d *Downloader) Start(requiredKeys []string) error {
	if len(requiredKeys) == 0 {
		return newError(CodeSettingsInvalid, "No required models configured", nil)
	}

	if !d.inFlight.CompareAndSwap(false, true) {
		d.emitError(newError(
			CodeInvalidState,
			"Download is already in progress",
			nil,
		))
		return nil
	}

	go func() {
		defer d.inFlight.Store(false)
		d.runCampaign(requiredKeys)
	}()

	return nil
}

// runCampaign builds the worklist and streams every pending file in order.
// Any failure aborts the whole campaign without attempting remaining files.
func (d *Downloader) runCampaign(requiredKeys []string) {
	manifest, err := d.manager.loadManifest()
	if err != nil {
		d.emitFailure(err)
		return
	}

	required := make(map[string]bool, len(requiredKeys))
	for _, key := range requiredKeys {
		required[key] = true
	}

	var (
		totalBytes   int64
		presentBytes int64
		pending      []pendingDownload
	)

	for _, spec := range manifest.Models {
		if !required[spec.Key] {
			continue
		}

		if len(spec.MacOS.Files) == 0 {
			d.emitFailure(newError(
				CodeManifestIncomplete,
				"Model manifest has a required model with no files",
				map[string]any{"modelKey": spec.Key, "missing": []string{"macos.files"}},
			))
			return
		}

		repoDir, err := d.manager.RepoDir(spec.RepoDirname)
		if err != nil {
			d.emitFailure(err)
			return
		}

		for _, file := range spec.MacOS.Files {
			if !isSafeRelativePath(file.Path) {
				d.emitFailure(newError(
					CodeManifestInvalid,
					"Manifest contains an invalid relative path",
					map[string]any{"path": file.Path},
				))
				return
			}

			totalBytes += file.Size

			destPath := filepath.Join(repoDir, filepath.FromSlash(file.Path))
			if filePresent(destPath, file.Size) {
				presentBytes += file.Size
				continue
			}

			pending = append(pending, pendingDownload{
				destPath:       destPath,
				downloadURL:    file.DownloadURL,
				expectedSHA256: file.SHA256,
				expectedSize:   file.Size,
			})
		}
	}

	// An already-fully-installed state is a legitimate success path.
	if len(pending) == 0 {
		d.emitProgress(totalBytes, totalBytes)
		d.emit(events.Event{Type: events.TypeModelsDownloadDone, Payload: map[string]any{}})
		return
	}

	d.logger.Info("model download campaign started",
		"files", len(pending),
		"bytesTotal", totalBytes,
		"bytesPresent", presentBytes,
	)

	if err := d.downloadAll(pending, totalBytes, presentBytes); err != nil {
		d.logger.Error("model download campaign failed",
			"code", err.Code,
			"message", err.Message,
		)
		d.emitFailure(err)
		return
	}

	d.logger.Info("model download campaign finished", "bytesTotal", totalBytes)
	d.emit(events.Event{Type: events.TypeModelsDownloadDone, Payload: map[string]any{}})
}

// downloadAll streams each pending file to a sibling temp path and renames
// it into place only after size and checksum verification succeed.
func (d *Downloader) downloadAll(pending []pendingDownload, bytesTotal, bytesPresent int64) *Error {
	bytesOffset := bytesPresent

	d.emitProgress(bytesOffset, bytesTotal)

	for _, file := range pending {
		name := filepath.Base(file.destPath)
		if name == "." || name == string(filepath.Separator) {
			return newError(
				CodeManifestInvalid,
				"Manifest file path has no filename",
				map[string]any{"path": file.destPath},
			)
		}
		tmpPath := filepath.Join(filepath.Dir(file.destPath), name+".partial")

		downloaded, err := d.downloadToPath(file, tmpPath, bytesTotal, bytesOffset)
		if err != nil {
			_ = os.Remove(tmpPath)
			return err
		}

		if err := os.MkdirAll(filepath.Dir(file.destPath), 0o755); err != nil {
			_ = os.Remove(tmpPath)
			return newError(
				CodeIOFailed,
				"Failed to create destination directory",
				map[string]any{"path": filepath.Dir(file.destPath), "error": err.Error()},
			)
		}

		if err := os.Remove(file.destPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			_ = os.Remove(tmpPath)
			return newError(
				CodeIOFailed,
				"Failed to remove existing file before replacing it",
				map[string]any{"destPath": file.destPath, "error": err.Error()},
			)
		}

		if err := os.Rename(tmpPath, file.destPath); err != nil {
			_ = os.Remove(tmpPath)
			return newError(
				CodeIOFailed,
				"Failed to move downloaded file into place",
				map[string]any{"tmpPath": tmpPath, "destPath": file.destPath, "error": err.Error()},
			)
		}

		bytesOffset += downloaded
	}

	// Deterministic completion signal, independent of per-chunk events.
	d.emitProgress(bytesTotal, bytesTotal)
	return nil
}

// downloadToPath streams one HTTP response into tmpPath while hashing and
// counting, then verifies size and checksum against the manifest.
func (d *Downloader) downloadToPath(file pendingDownload, tmpPath string, bytesTotal, bytesOffset int64) (int64, *Error) {
	resp, err := d.client.Get(file.downloadURL)
	if err != nil {
		return 0, newError(
			CodeHTTPFailed,
			"Failed to start HTTP download",
			map[string]any{"url": file.downloadURL, "error": err.Error()},
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, newError(
			CodeHTTPFailed,
			"HTTP download returned non-success status",
			map[string]any{"url": file.downloadURL, "status": resp.StatusCode},
		)
	}

	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		return 0, newError(
			CodeIOFailed,
			"Failed to create download directory",
			map[string]any{"path": filepath.Dir(tmpPath), "error": err.Error()},
		)
	}

	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, newError(
			CodeIOFailed,
			"Failed to create temp download file",
			map[string]any{"path": tmpPath, "error": err.Error()},
		)
	}

	expectedSHA := strings.TrimSpace(file.expectedSHA256)
	var hasher hash.Hash
	if expectedSHA != "" {
		hasher = sha256.New()
	}

	var downloaded int64
	buf := make([]byte, downloadChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := out.Write(chunk); err != nil {
				_ = out.Close()
				return downloaded, newError(
					CodeIOFailed,
					"Failed to write downloaded chunk",
					map[string]any{"path": tmpPath, "error": err.Error()},
				)
			}
			if hasher != nil {
				_, _ = hasher.Write(chunk)
			}
			downloaded += int64(n)
			d.emitProgress(bytesOffset+downloaded, bytesTotal)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = out.Close()
			return downloaded, newError(
				CodeHTTPFailed,
				"Failed while streaming HTTP response",
				map[string]any{"url": file.downloadURL, "error": readErr.Error()},
			)
		}
	}

	if err := out.Close(); err != nil {
		return downloaded, newError(
			CodeIOFailed,
			"Failed to flush temp file",
			map[string]any{"path": tmpPath, "error": err.Error()},
		)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return downloaded, newError(
			CodeIOFailed,
			"Failed to stat downloaded file",
			map[string]any{"path": tmpPath, "error": err.Error()},
		)
	}
	if info.Size() != file.expectedSize {
		return downloaded, newError(
			CodeSizeMismatch,
			"Downloaded file size does not match expected value",
			map[string]any{
				"path":         tmpPath,
				"expectedSize": file.expectedSize,
				"actualSize":   info.Size(),
				"url":          file.downloadURL,
			},
		)
	}

	if hasher != nil {
		actualSHA := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actualSHA, expectedSHA) {
			return downloaded, newError(
				CodeSHA256Mismatch,
				"Downloaded file SHA256 does not match expected value",
				map[string]any{
					"path":           tmpPath,
					"expectedSha256": expectedSHA,
					"actualSha256":   actualSHA,
				},
			)
		}
	}

	return downloaded, nil
}

// emitProgress publishes one global progress event.
func (d *Downloader) emitProgress(bytesDownloaded, bytesTotal int64) {
	d.emit(events.Event{
		Type: events.TypeModelsDownloadProgress,
		Payload: map[string]any{
			"bytesDownloaded": bytesDownloaded,
			"bytesTotal":      bytesTotal,
		},
	})
}

// emitFailure publishes a campaign failure as a download error event.
func (d *Downloader) emitFailure(err error) {
	d.emitError(asAssetError(err))
}

// emitError publishes one asset error as a download error event.
func (d *Downloader) emitError(assetErr *Error) {
	d.emit(events.Event{
		Type: events.TypeModelsDownloadError,
		Payload: map[string]any{
			"code":    assetErr.Code,
			"message": assetErr.Message,
			"context": assetErr.Context,
		},
	})
}

// asAssetError coerces any error into the coded asset error shape.
func asAssetError(err error) *Error {
	var assetErr *Error
	if errors.As(err, &assetErr) {
		return assetErr
	}
	return newError(CodeIOFailed, err.Error(), nil)
}
