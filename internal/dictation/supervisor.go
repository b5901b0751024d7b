package dictation

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"localdesk/internal/assets"
	"localdesk/internal/domain"
	"localdesk/internal/events"
)

// Fixed recognizer init parameters.
const (
	dictationSampleRate = 16000
	dictationMicMode    = "mic"
	dictationModelKey   = "asr_tdt_v3"
)

// Error codes emitted on the dictation event channel.
const (
	CodeInvalidState    = "invalid_state"
	CodeModelNotReady   = "model_not_ready"
	CodeSidecarNotFound = "sidecar_not_found"
	CodeSidecarIOFailed = "sidecar_io_failed"
	CodeSidecarFailed   = "sidecar_failed"
)

// EmitFunc forwards one host event to the UI layer.
type EmitFunc func(event events.Event)

// initConfig is the fixed recognizer initialization block.
type initConfig struct {
	SampleRate int    `json:"sample_rate"`
	Mode       string `json:"mode"`
	ModelKey   string `json:"model_key"`
}

// sidecarCommand is one control line written to the recognizer stdin.
type sidecarCommand struct {
	Cmd      string      `json:"cmd"`
	Config   *initConfig `json:"config,omitempty"`
	DeviceID string      `json:"device_id,omitempty"`
}

// session is one live dictation interaction. Exactly zero or one exists
// process-wide, held behind the supervisor's exclusive slot.
type session struct {
	id         string
	handle     Handle
	writer     *bufio.Writer
	stdin      io.WriteCloser
	stdoutDone chan struct{}
	stderrDone chan struct{}
	stderrText string

	// One-way flags; transitions are atomic and never revert.
	doneEmitted atomic.Bool
	hadError    atomic.Bool
}

// writeCommand marshals one control command and flushes it immediately.
func (sess *session) writeCommand(cmd sidecarCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if _, err := sess.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	return sess.writer.Flush()
}

// Supervisor owns at most one recognizer process at a time, gates starts on
// asset readiness, and turns recognizer stdout into host events.
type Supervisor struct {
	emit           EmitFunc
	status         func(requiredKeys []string) (domain.AudioAssetsStatus, error)
	modelsDir      func() (string, error)
	resolveSidecar func() (path string, searched string, err error)
	spawn          func(path, modelsDir string) (Handle, error)
	requiredKeys   []string
	deviceID       string
	logger         *slog.Logger

	mu      sync.Mutex
	session *session
}

// NewSupervisor creates a supervisor backed by the real recognizer binary
// and the given asset manager.
func NewSupervisor(manager *assets.Manager, emit EmitFunc, settings domain.Settings, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		emit:           emit,
		status:         manager.Status,
		modelsDir:      manager.ModelsDir,
		resolveSidecar: ResolveSidecarEntry,
		spawn:          startSidecarProcess,
		requiredKeys:   settings.RequiredModelKeys,
		deviceID:       settings.InputDeviceID,
		logger:         logger,
	}
}

// NewSupervisorForTests creates a supervisor with injectable dependencies.
func NewSupervisorForTests(
	emit EmitFunc,
	status func([]string) (domain.AudioAssetsStatus, error),
	modelsDir func() (string, error),
	resolveSidecar func() (string, string, error),
	spawn func(string, string) (Handle, error),
	requiredKeys []string,
	deviceID string,
) *Supervisor {
	return &Supervisor{
		emit:           emit,
		status:         status,
		modelsDir:      modelsDir,
		resolveSidecar: resolveSidecar,
		spawn:          spawn,
		requiredKeys:   requiredKeys,
		deviceID:       deviceID,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Start begins a dictation session with the caller-supplied id.
// Conditions discovered after acceptance (not ready, already running,
// recognizer missing) are reported through the event channel while the
// call itself returns nil.
func (s *Supervisor) Start(dictationID string) error {
	if strings.TrimSpace(dictationID) == "" {
		return errors.New("dictationId is required")
	}

	// Reap a previously finished session if needed; reject if one is
	// still running.
	s.mu.Lock()
	if existing := s.session; existing != nil {
		if existing.handle.Running() {
			activeID := existing.id
			s.mu.Unlock()
			s.emitError(dictationID, CodeInvalidState, "Dictation is already running",
				map[string]any{"activeDictationId": activeID})
			return nil
		}
		s.session = nil
		s.mu.Unlock()
		s.reapSession(existing)
	} else {
		s.mu.Unlock()
	}

	status, err := s.status(s.requiredKeys)
	if err != nil {
		return fmt.Errorf("check audio model status: %w", err)
	}
	if status.State != domain.AssetsStateReady {
		s.emitError(dictationID, CodeModelNotReady,
			"Speech models are not ready; download them in Settings > Audio",
			map[string]any{"status": status})
		return nil
	}

	modelsDir, err := s.modelsDir()
	if err != nil {
		return fmt.Errorf("resolve models dir: %w", err)
	}

	sidecarPath, searched, err := s.resolveSidecar()
	if err != nil {
		return fmt.Errorf("resolve recognizer binary: %w", err)
	}
	if sidecarPath == "" {
		s.emitError(dictationID, CodeSidecarNotFound, "asr-sidecar binary not found",
			map[string]any{"expectedPath": searched})
		return nil
	}

	handle, err := s.spawn(sidecarPath, modelsDir)
	if err != nil {
		return fmt.Errorf("spawn asr-sidecar: %w", err)
	}

	stdin := handle.Stdin()
	sess := &session{
		id:         dictationID,
		handle:     handle,
		writer:     bufio.NewWriter(stdin),
		stdin:      stdin,
		stdoutDone: make(chan struct{}),
		stderrDone: make(chan struct{}),
	}

	go s.readStdout(sess, handle.Stdout())
	go readStderr(sess, handle.Stderr())

	initCmd := sidecarCommand{
		Cmd: "init",
		Config: &initConfig{
			SampleRate: dictationSampleRate,
			Mode:       dictationMicMode,
			ModelKey:   dictationModelKey,
		},
	}
	micStart := sidecarCommand{Cmd: "mic_start", DeviceID: s.deviceID}

	for _, cmd := range []sidecarCommand{initCmd, micStart} {
		if err := sess.writeCommand(cmd); err != nil {
			_ = handle.Kill()
			s.reapSession(sess)
			return fmt.Errorf("write %s to sidecar stdin: %w", cmd.Cmd, err)
		}
	}

	s.logger.Info("dictation session started", "dictationId", dictationID)

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	return nil
}

// Stop ends the active session. Stop with no active session is idempotent
// and succeeds; a mismatched id fails with a descriptive error.
func (s *Supervisor) Stop(dictationID string) error {
	if strings.TrimSpace(dictationID) == "" {
		return errors.New("dictationId is required")
	}

	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.mu.Unlock()
		s.logger.Warn("dictation stop ignored", "reason", "not_running", "dictationId", dictationID)
		return nil
	}
	if sess.id != dictationID {
		activeID := sess.id
		s.mu.Unlock()
		return fmt.Errorf("dictationId does not match active session (active=%s)", activeID)
	}
	s.session = nil
	s.mu.Unlock()

	if err := sess.writeCommand(sidecarCommand{Cmd: "mic_stop"}); err != nil {
		sess.hadError.Store(true)
		s.emitError(sess.id, CodeSidecarIOFailed, "Failed to write mic_stop to sidecar stdin",
			map[string]any{"error": err.Error()})
		_ = sess.handle.Kill()
		s.reapSession(sess)
		s.emitDoneOnce(sess)
		return nil
	}

	// End-of-input tells the recognizer to finish up and exit.
	_ = sess.stdin.Close()

	<-sess.stdoutDone
	<-sess.stderrDone
	exitCode := sess.handle.Wait()

	if exitCode != 0 && !sess.hadError.Load() {
		sess.hadError.Store(true)
		s.emitError(sess.id, CodeSidecarFailed, "asr-sidecar exited with non-zero status",
			map[string]any{"exitCode": exitCode, "stderr": sess.stderrText})
	}

	s.emitDoneOnce(sess)
	s.logger.Info("dictation session stopped", "dictationId", dictationID, "exitCode", exitCode)
	return nil
}

// ActiveSessionID returns the id of the live session, empty when idle.
func (s *Supervisor) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ""
	}
	return s.session.id
}

// readStdout decodes newline-delimited recognizer events and forwards them
// as host events. A parse failure or a recognizer error event is fatal for
// the session; the done event fires exactly once on every exit path.
func (s *Supervisor) readStdout(sess *session, r io.Reader) {
	defer close(sess.stdoutDone)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		event, err := ParseEventLine(line)
		if err != nil {
			sess.hadError.Store(true)
			code := CodeInvalidJSON
			var parseErr *ParseError
			if errors.As(err, &parseErr) {
				code = parseErr.Code
			}
			s.emitError(sess.id, code, "Failed to parse sidecar stdout line",
				map[string]any{"error": err.Error(), "line": line})
			s.emitDoneOnce(sess)
			return
		}

		switch ev := event.(type) {
		case Partial:
			s.emit(events.Event{Type: events.TypeDictationPartial, Payload: map[string]any{
				"dictationId": sess.id,
				"text":        ev.Text,
				"unstable":    ev.Unstable,
			}})
		case Final:
			s.emit(events.Event{Type: events.TypeDictationFinal, Payload: map[string]any{
				"dictationId": sess.id,
				"text":        ev.Text,
				"start":       ev.Start,
				"end":         ev.End,
			}})
		case AudioLevel:
			s.emit(events.Event{Type: events.TypeDictationAudioLevel, Payload: map[string]any{
				"dictationId": sess.id,
				"level":       ev.Level,
			}})
		case ErrorEvent:
			sess.hadError.Store(true)
			s.emitError(sess.id, ev.Code, ev.Msg, ev.Context)
			s.emitDoneOnce(sess)
			return
		case Log:
			// Intentionally ignored (can be noisy).
		}
	}

	if err := scanner.Err(); err != nil {
		sess.hadError.Store(true)
		s.emitError(sess.id, CodeSidecarIOFailed, "Failed while reading sidecar stdout",
			map[string]any{"error": err.Error()})
	}
	s.emitDoneOnce(sess)
}

// readStderr accumulates recognizer stderr for postmortem diagnostics.
func readStderr(sess *session, r io.Reader) {
	defer close(sess.stderrDone)
	data, _ := io.ReadAll(r)
	sess.stderrText = string(data)
}

// reapSession joins both readers and waits for process exit.
func (s *Supervisor) reapSession(sess *session) {
	<-sess.stdoutDone
	<-sess.stderrDone
	sess.handle.Wait()
}

// emitDoneOnce fires the session's done event through its one-way flag.
func (s *Supervisor) emitDoneOnce(sess *session) {
	if !sess.doneEmitted.CompareAndSwap(false, true) {
		return
	}
	s.emit(events.Event{Type: events.TypeDictationDone, Payload: map[string]any{
		"dictationId": sess.id,
	}})
}

// emitError publishes one dictation error event.
func (s *Supervisor) emitError(dictationID, code, message string, context map[string]any) {
	if context == nil {
		context = map[string]any{}
	}
	s.emit(events.Event{Type: events.TypeDictationError, Payload: map[string]any{
		"dictationId": dictationID,
		"code":        code,
		"message":     message,
		"context":     context,
	}})
}
