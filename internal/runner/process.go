package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/viberelay/relay/internal/log"
)

// ErrAgentLaunch indicates the agent subprocess could not be started.
var ErrAgentLaunch = errors.New("failed to launch agent")

// envMarkerPrefix names the environment variables stripped before spawning.
// A nested claude invocation inheriting them would believe it is already
// inside a session.
const envMarkerPrefix = "CLAUDE"

// stderrTailLimit bounds how much captured stderr is stored on a failed run.
const stderrTailLimit = 4096

// spawnConfig holds everything needed to start one agent subprocess.
type spawnConfig struct {
	WorkDir       string
	Prompt        string
	SessionID     string // resume when non-empty
	Model         string
	MCPConfigPath string
}

// spawnResult is the outcome of one subprocess run.
type spawnResult struct {
	ExitCode   int
	SessionID  string
	StderrTail string
}

// buildArgs constructs the claude command line for headless stream-json mode.
func buildArgs(cfg spawnConfig) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if cfg.SessionID != "" {
		args = append(args, "--resume", cfg.SessionID)
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.MCPConfigPath != "" {
		args = append(args, "--mcp-config", cfg.MCPConfigPath)
	}
	// The -- separator keeps the prompt from being consumed by flags.
	args = append(args, "--", cfg.Prompt)
	return args
}

// sanitizeEnv drops every variable whose name begins with the marker prefix.
func sanitizeEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, envMarkerPrefix) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// streamLine is the subset of the stream-json envelope the runner cares
// about. The first {type=system, subtype=init} line carries the session id.
type streamLine struct {
	Type      string `json:"type"`
	SubType   string `json:"subtype"`
	SessionID string `json:"session_id"`
}

// spawn runs the agent subprocess to completion. onSession is invoked once,
// as soon as the session id appears on stdout, so the caller can persist it
// before the run finishes. The returned error is non-nil only for launch
// failures; a non-zero exit is reported through the result.
func spawn(ctx context.Context, runID string, cfg spawnConfig, registry *Registry, onSession func(sessionID string)) (spawnResult, error) {
	args := buildArgs(cfg)
	log.Debug(log.CatRunner, "Spawning agent", "run_id", runID, "work_dir", cfg.WorkDir, "model", cfg.Model)

	// #nosec G204 -- args are built from config, not user input
	cmd := exec.CommandContext(ctx, "claude", args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = sanitizeEnv(os.Environ())
	cmd.Stdin = nil // headless mode reads nothing

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return spawnResult{}, fmt.Errorf("%w: %v", ErrAgentLaunch, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return spawnResult{}, fmt.Errorf("%w: %v", ErrAgentLaunch, err)
	}

	if err := cmd.Start(); err != nil {
		return spawnResult{}, fmt.Errorf("%w: %v", ErrAgentLaunch, err)
	}
	registry.register(runID, cmd)
	defer registry.unregister(runID)

	var stderrTail string
	stderrDone := make(chan struct{})
	log.SafeGo("runner-stderr", func() {
		defer close(stderrDone)
		stderrTail = readTail(stderr, stderrTailLimit)
	})

	result := spawnResult{SessionID: cfg.SessionID}
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event streamLine
		if err := json.Unmarshal(line, &event); err != nil {
			log.Debug(log.CatRunner, "Skipping unparseable output line", "run_id", runID, "error", err)
			continue
		}
		if event.Type == "system" && event.SubType == "init" && event.SessionID != "" && result.SessionID == "" {
			result.SessionID = event.SessionID
			log.Debug(log.CatRunner, "Captured session id", "run_id", runID, "session_id", event.SessionID)
			if onSession != nil {
				onSession(event.SessionID)
			}
		}
	}

	<-stderrDone
	waitErr := cmd.Wait()
	result.StderrTail = stderrTail

	switch {
	case waitErr == nil:
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Killed or otherwise exceptional termination.
			result.ExitCode = -1
			if result.StderrTail == "" {
				result.StderrTail = waitErr.Error()
			}
		}
	}
	return result, nil
}

// readTail drains r and keeps the last limit bytes.
func readTail(r io.Reader, limit int) string {
	data, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	if len(data) > limit {
		data = data[len(data)-limit:]
	}
	return strings.TrimSpace(string(data))
}
