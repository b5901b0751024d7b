package dictation

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// sidecarPrefix names the recognizer binary bundled beside the host
// executable.
const sidecarPrefix = "asr-sidecar"

// Handle is one spawned recognizer process with its three piped streams.
// Wait must only be called after both stream readers have finished.
type Handle interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	Running() bool
	Wait() int
	Kill() error
}

// execHandle runs the recognizer via os/exec with os.Pipe streams so that
// waiting for exit and draining output are independent.
type execHandle struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.Reader
	stderr   io.Reader
	waitCh   chan struct{}
	exitCode int
}

// startSidecarProcess spawns the recognizer with the models directory
// argument and begins reaping its exit status in the background.
func startSidecarProcess(path, modelsDir string) (Handle, error) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, err
	}

	cmd := exec.Command(path, "--models-dir", modelsDir)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, err
	}

	// The child owns its ends now; closing ours makes reader EOF track
	// process exit.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	h := &execHandle{
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: stderrR,
		waitCh: make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		h.exitCode = 0
		if err != nil {
			h.exitCode = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				h.exitCode = exitErr.ExitCode()
			}
		}
		close(h.waitCh)
	}()

	return h, nil
}

// Stdin returns the writable command stream.
func (h *execHandle) Stdin() io.WriteCloser { return h.stdin }

// Stdout returns the recognizer event stream.
func (h *execHandle) Stdout() io.Reader { return h.stdout }

// Stderr returns the recognizer diagnostic stream.
func (h *execHandle) Stderr() io.Reader { return h.stderr }

// Running reports whether the process has not yet been reaped.
func (h *execHandle) Running() bool {
	select {
	case <-h.waitCh:
		return false
	default:
		return true
	}
}

// Wait blocks until process exit and returns the exit code.
func (h *execHandle) Wait() int {
	<-h.waitCh
	return h.exitCode
}

// Kill forcefully terminates the process.
func (h *execHandle) Kill() error {
	return h.cmd.Process.Kill()
}

// ResolveSidecarEntry scans the host executable's directory for a file
// whose name starts with the recognizer prefix. An empty path with a nil
// error means the binary is absent; searched reports where it was looked
// for.
func ResolveSidecarEntry() (path string, searched string, err error) {
	exe, err := os.Executable()
	if err != nil {
		return "", "", err
	}
	dir := filepath.Dir(exe)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), sidecarPrefix) {
			return filepath.Join(dir, entry.Name()), dir, nil
		}
	}

	return "", filepath.Join(dir, sidecarPrefix+"*"), nil
}
