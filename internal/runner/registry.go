package runner

import (
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/viberelay/relay/internal/log"
)

// Registry tracks live agent subprocesses so the CLI can terminate them all
// on shutdown.
type Registry struct {
	mu        sync.Mutex
	processes map[string]*exec.Cmd // keyed by run id
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{processes: make(map[string]*exec.Cmd)}
}

func (r *Registry) register(runID string, cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes[runID] = cmd
}

func (r *Registry) unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processes, runID)
}

// Len returns the number of live subprocesses.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processes)
}

// TerminateAll sends SIGTERM to every live subprocess, waits up to grace for
// them to exit, then force-kills the stragglers.
func (r *Registry) TerminateAll(grace time.Duration) {
	r.mu.Lock()
	cmds := make([]*exec.Cmd, 0, len(r.processes))
	for _, cmd := range r.processes {
		cmds = append(cmds, cmd)
	}
	r.mu.Unlock()

	if len(cmds) == 0 {
		return
	}
	log.Info(log.CatRunner, "Terminating agent subprocesses", "count", len(cmds))

	for _, cmd := range cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(os.Interrupt)
		}
	}

	deadline := time.After(grace)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			for _, cmd := range cmds {
				if cmd.Process != nil && cmd.ProcessState == nil {
					_ = cmd.Process.Kill()
				}
			}
			return
		case <-ticker.C:
			allDone := true
			for _, cmd := range cmds {
				if cmd.ProcessState == nil {
					allDone = false
					break
				}
			}
			if allDone {
				return
			}
		}
	}
}
