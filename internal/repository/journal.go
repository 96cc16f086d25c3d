package repository

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
)

// JournalFile holds the intent of the composite operation in progress.
const JournalFile = "journal.log"

// intent describes a composite mutation before any sub-index is touched.
type intent struct {
	Op      string              `json:"op"`
	URI     content.ResourceURI `json:"uri"`
	Address int64               `json:"address"`
	Path    string              `json:"path,omitempty"`
	Time    time.Time           `json:"time"`
}

// journal is a write-ahead intent log. An intent is appended and synced
// before a composite mutation starts and the file is truncated once the
// mutation has completed, so a non-empty journal on open means the last
// mutation was interrupted.
type journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// openJournal opens dir/journal.log and returns the intents left behind by
// an interrupted process.
func openJournal(dir string) (*journal, []intent, error) {
	path := filepath.Join(dir, JournalFile)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening journal: %w", err)
	}
	pending, err := readIntents(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return &journal{path: path, f: f}, pending, nil
}

// readIntents decodes every complete line. A torn last line is ignored:
// its mutation had not started yet.
func readIntents(f *os.File) ([]intent, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	var pending []intent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var in intent
		if err := json.Unmarshal(line, &in); err != nil {
			continue
		}
		pending = append(pending, in)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return pending, nil
}

// begin records in durably.
func (j *journal) begin(in intent) error {
	if j == nil {
		return nil
	}
	in.Time = time.Now().UTC()
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding journal intent: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Seek(0, 2); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	if _, err := j.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("syncing journal: %w", err)
	}
	return nil
}

// commit discards all recorded intents.
func (j *journal) commit() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating journal: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("syncing journal: %w", err)
	}
	return nil
}

func (j *journal) close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
