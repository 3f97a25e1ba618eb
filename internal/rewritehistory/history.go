// Package rewritehistory journals every chapter rewrite to an
// append-only, one-JSON-object-per-line file so a rewrite can later be
// rolled back.
package rewritehistory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
)

// Journal appends to and reads the per-chapter rewrite-history files in
// its directory. Appends
// are line-oriented and serialized by a per-journal mutex; concurrent
// rewrites of the same chapter are the caller's responsibility to avoid,
// per spec §5's shared-resource policy.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// Open returns a Journal that stores history files under dir, one file
// per chapter named "<chapter_id>.jsonl".
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rewritehistory: create history dir: %w", err)
	}
	return &Journal{dir: dir}, nil
}

func (j *Journal) pathFor(chapterID int64) string {
	return filepath.Join(j.dir, fmt.Sprintf("%d.jsonl", chapterID))
}

// Append records one rewrite and returns its history id.
func (j *Journal) Append(chapterID int64, chapterTitle, instruction, rewriteMode string, scope model.RewriteScope, original, newContent string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := model.RewriteHistoryEntry{
		HistoryID:       uuid.NewString(),
		Timestamp:       time.Now(),
		ChapterID:       chapterID,
		ChapterTitle:    chapterTitle,
		Instruction:     instruction,
		RewriteMode:     rewriteMode,
		Scope:           scope,
		OriginalContent: original,
		NewContent:      newContent,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("rewritehistory: marshal entry: %w", err)
	}

	f, err := os.OpenFile(j.pathFor(chapterID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("rewritehistory: open history file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("rewritehistory: append entry: %w", err)
	}
	return entry.HistoryID, nil
}

// Entries returns every recorded entry for a chapter, file order
// (append order, i.e. oldest first).
func (j *Journal) Entries(chapterID int64) ([]model.RewriteHistoryEntry, error) {
	f, err := os.Open(j.pathFor(chapterID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rewritehistory: open history file: %w", err)
	}
	defer f.Close()

	var out []model.RewriteHistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry model.RewriteHistoryEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("rewritehistory: decode entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("rewritehistory: scan history file: %w", err)
	}
	return out, nil
}

// Find returns the entry matching historyID, or the newest entry if
// historyID is empty.
func (j *Journal) Find(chapterID int64, historyID string) (model.RewriteHistoryEntry, error) {
	entries, err := j.Entries(chapterID)
	if err != nil {
		return model.RewriteHistoryEntry{}, err
	}
	if len(entries) == 0 {
		return model.RewriteHistoryEntry{}, engerr.NotFound(fmt.Sprintf("no rewrite history for chapter %d", chapterID))
	}

	if historyID == "" {
		return entries[len(entries)-1], nil
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].HistoryID == historyID {
			return entries[i], nil
		}
	}
	return model.RewriteHistoryEntry{}, engerr.NotFound(fmt.Sprintf("rewrite history entry %q not found for chapter %d", historyID, chapterID))
}
