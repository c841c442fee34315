// Package transcript reads agent session transcripts. The claude CLI writes
// one JSONL file per session under a per-project directory derived from the
// worktree path; this package derives that path, filters the stream down to
// meaningful message types, and paginates by line offset.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/store"
)

// Status describes the outcome of a transcript read.
type Status string

const (
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusNoSession  Status = "no_session"
	StatusNoWorktree Status = "no_worktree"
	StatusNotFound   Status = "transcript_not_found"
	StatusReadError  Status = "read_error"
)

// toolPayloadLimit caps tool inputs and outputs in rendered entries.
const toolPayloadLimit = 500

// Entry is one rendered transcript line.
type Entry struct {
	Type      string `json:"type"` // assistant, tool_use, tool_result, system
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Result is a paginated transcript slice. NewOffset is the line offset to
// pass on the next call.
type Result struct {
	Entries   []Entry `json:"entries"`
	NewOffset int     `json:"new_offset"`
	Status    Status  `json:"status"`
}

// Reader resolves and reads transcript files.
type Reader struct {
	projectsDir string
}

// New creates a Reader rooted at the claude projects directory
// (~/.claude/projects).
func New() (*Reader, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return &Reader{projectsDir: filepath.Join(home, ".claude", "projects")}, nil
}

// NewWithDir creates a Reader rooted at an explicit projects directory.
func NewWithDir(dir string) *Reader {
	return &Reader{projectsDir: dir}
}

// Path derives the transcript file location for a worktree and session. The
// worktree path is encoded by trimming the leading separator and replacing
// the rest with dashes.
func (r *Reader) Path(worktreePath, sessionID string) string {
	encoded := strings.TrimPrefix(worktreePath, string(filepath.Separator))
	encoded = strings.ReplaceAll(encoded, string(filepath.Separator), "-")
	return filepath.Join(r.projectsDir, encoded, sessionID+".jsonl")
}

// Read returns the task's transcript entries starting at offset. running
// reports whether the task currently has an active run; it selects between
// the running and completed terminal statuses.
func (r *Reader) Read(task *store.Task, running bool, offset int) Result {
	if task.WorktreePath == nil || *task.WorktreePath == "" {
		return Result{NewOffset: offset, Status: StatusNoWorktree}
	}
	if task.SessionID == nil || *task.SessionID == "" {
		return Result{NewOffset: offset, Status: StatusNoSession}
	}

	path := r.Path(*task.WorktreePath, *task.SessionID)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Result{NewOffset: offset, Status: StatusNotFound}
	}
	if err != nil {
		log.Warn(log.CatTranscript, "Failed to open transcript", "path", path, "error", err)
		return Result{NewOffset: offset, Status: StatusReadError}
	}
	defer f.Close()

	entries, newOffset, err := parse(f, offset)
	if err != nil {
		log.Warn(log.CatTranscript, "Failed to read transcript", "path", path, "error", err)
		return Result{NewOffset: offset, Status: StatusReadError}
	}

	status := StatusCompleted
	if running {
		status = StatusRunning
	}
	return Result{Entries: entries, NewOffset: newOffset, Status: status}
}

// transcriptLine is the envelope of one JSONL record.
type transcriptLine struct {
	Type      string `json:"type"`
	SubType   string `json:"subtype"`
	Timestamp string `json:"timestamp"`
	Message   *struct {
		Role    string            `json:"role"`
		Content []json.RawMessage `json:"content"`
	} `json:"message"`
}

// contentBlock is one element of a message's content array.
type contentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input"`
	Content json.RawMessage `json:"content"`
}

// parse renders every meaningful line after skipping offset lines.
func parse(f *os.File, offset int) ([]Entry, int, error) {
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var entries []Entry
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum <= offset {
			continue
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line transcriptLine
		if err := json.Unmarshal(raw, &line); err != nil {
			continue // partial trailing write, or junk
		}
		entries = append(entries, render(line)...)
	}
	if err := scanner.Err(); err != nil {
		return nil, offset, err
	}
	return entries, lineNum, nil
}

// render maps one record to zero or more entries, keeping only assistant
// text, tool calls, tool results, and system lines.
func render(line transcriptLine) []Entry {
	var entries []Entry
	switch line.Type {
	case "system":
		if line.SubType != "" {
			entries = append(entries, Entry{
				Type:      "system",
				Content:   line.SubType,
				Timestamp: line.Timestamp,
			})
		}

	case "assistant":
		if line.Message == nil {
			return nil
		}
		for _, raw := range line.Message.Content {
			var block contentBlock
			if err := json.Unmarshal(raw, &block); err != nil {
				continue
			}
			switch block.Type {
			case "text":
				if strings.TrimSpace(block.Text) == "" {
					continue
				}
				entries = append(entries, Entry{
					Type:      "assistant",
					Content:   block.Text,
					Timestamp: line.Timestamp,
				})
			case "tool_use":
				entries = append(entries, Entry{
					Type:      "tool_use",
					Content:   fmt.Sprintf("%s %s", block.Name, truncate(string(block.Input))),
					Timestamp: line.Timestamp,
				})
			}
		}

	case "user":
		// User records carry tool results back to the model.
		if line.Message == nil {
			return nil
		}
		for _, raw := range line.Message.Content {
			var block contentBlock
			if err := json.Unmarshal(raw, &block); err != nil {
				continue
			}
			if block.Type != "tool_result" {
				continue
			}
			entries = append(entries, Entry{
				Type:      "tool_result",
				Content:   truncate(string(block.Content)),
				Timestamp: line.Timestamp,
			})
		}
	}
	return entries
}

// truncate caps tool payloads so one giant command output cannot swamp the
// transcript view.
func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= toolPayloadLimit {
		return s
	}
	return s[:toolPayloadLimit] + "..."
}
