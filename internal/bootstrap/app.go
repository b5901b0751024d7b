package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"localdesk/internal/assets"
	"localdesk/internal/config"
	"localdesk/internal/diagnostics"
	"localdesk/internal/dictation"
	"localdesk/internal/domain"
	"localdesk/internal/events"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// App wires configuration, the audio asset manager, the dictation
// supervisor, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport

	appAssets fs.FS
	logger    *slog.Logger
	events    *events.Bus

	mu         sync.Mutex
	manager    *assets.Manager
	downloader *assets.Downloader
	supervisor *dictation.Supervisor
	checker    *diagnostics.Checker
	runtimeCtx context.Context
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded
// frontend assets.
func NewWithAssets(appAssets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".localdesk", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	app := &App{
		Settings:  settings,
		Store:     store,
		appAssets: appAssets,
		logger:    logger,
		events:    events.NewBus(1000),
	}
	app.rebuildServices(settings)
	app.Diagnostics = app.checker.Run(settings)
	return app, nil
}

// rebuildServices recreates the asset manager, downloader, supervisor, and
// checker for the given settings. Callers must ensure no dictation session
// is active.
func (a *App) rebuildServices(settings domain.Settings) {
	a.mu.Lock()
	defer a.mu.Unlock()

	manager := assets.NewManager(settings.ModelsDir)
	a.manager = manager
	a.downloader = assets.NewDownloader(manager, a.publishEvent, a.logger)
	a.supervisor = dictation.NewSupervisor(manager, a.publishEvent, settings, a.logger)
	a.checker = diagnostics.NewChecker(manager.ModelsDir, dictation.ResolveSidecarEntry, manager.Status)
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.appAssets != nil {
		assetOptions.Assets = a.appAssets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "LocalDesk",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.runtimeCtx = nil
		},
		Bind: []interface{}{a},
	})
}

// Startup stores the Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// StartDictation begins a microphone dictation session with the given id.
func (a *App) StartDictation(dictationID string) error {
	a.mu.Lock()
	supervisor := a.supervisor
	a.mu.Unlock()
	return supervisor.Start(dictationID)
}

// StopDictation ends the dictation session with the given id.
func (a *App) StopDictation(dictationID string) error {
	a.mu.Lock()
	supervisor := a.supervisor
	a.mu.Unlock()
	return supervisor.Stop(dictationID)
}

// GetAudioModelsStatus classifies speech model readiness and pushes the
// result as a status event. Hard failures are folded into the error state
// so the UI has a single shape to render.
func (a *App) GetAudioModelsStatus() domain.AudioAssetsStatus {
	a.mu.Lock()
	manager := a.manager
	requiredKeys := a.Settings.RequiredModelKeys
	a.mu.Unlock()

	status, err := manager.Status(requiredKeys)
	if err != nil {
		status = domain.AudioAssetsStatus{
			State:   domain.AssetsStateError,
			Code:    assets.CodeOf(err),
			Message: err.Error(),
			Context: assets.ContextOf(err),
		}
	}

	a.publishEvent(events.Event{
		Type:    events.TypeModelsStatus,
		Payload: map[string]any{"status": status},
	})
	return status
}

// StartModelDownload launches the asynchronous download campaign for the
// required speech models.
func (a *App) StartModelDownload() error {
	a.mu.Lock()
	downloader := a.downloader
	requiredKeys := a.Settings.RequiredModelKeys
	a.mu.Unlock()
	return downloader.Start(requiredKeys)
}

// ServerEvents returns all events with sequence greater than sinceSeq.
func (a *App) ServerEvents(sinceSeq int64) []events.Event {
	return a.events.Since(sinceSeq)
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, rebuilds the audio
// services, and refreshes diagnostics. Rejected while dictation is active.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	a.mu.Lock()
	supervisor := a.supervisor
	a.mu.Unlock()
	if active := supervisor.ActiveSessionID(); active != "" {
		return domain.Settings{}, fmt.Errorf("cannot change settings while dictation %s is running", active)
	}

	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	a.mu.Unlock()

	a.rebuildServices(normalized)

	a.mu.Lock()
	a.Diagnostics = a.checker.Run(normalized)
	a.mu.Unlock()

	return normalized, nil
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns startup checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.GetSettings()
	if err != nil {
		return domain.DiagnosticReport{}, err
	}

	a.mu.Lock()
	checker := a.checker
	a.mu.Unlock()

	report := checker.Run(settings)

	a.mu.Lock()
	a.Diagnostics = report
	a.mu.Unlock()
	return report, nil
}

// PickModelsDirectory opens a native directory picker for the models dir.
func (a *App) PickModelsDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select models directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event events.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "server:event", published)
	}
}

// runtimeContext returns the current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and applies defaults for empty fields.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.ModelsDir = strings.TrimSpace(settings.ModelsDir)
	settings.InputDeviceID = strings.TrimSpace(settings.InputDeviceID)
	if settings.InputDeviceID == "" {
		settings.InputDeviceID = "default"
	}
	if len(settings.RequiredModelKeys) == 0 {
		settings.RequiredModelKeys = append([]string(nil), config.RequiredModelKeys...)
	}
	return settings
}
