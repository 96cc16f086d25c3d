package engine

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/internal/search/tokenizer"
)

// ChangesFile records the mutations made since the last flush.
const ChangesFile = "changes.log"

const (
	changePut    = "put"
	changeRemove = "remove"
	changeModify = "modify"
)

// change is one mutation of the document table. Put records carry the
// tokenized text because the fulltext of a document is not part of the
// document table.
type change struct {
	Op         string            `json:"op"`
	Key        string            `json:"key"`
	Doc        *content.Document `json:"doc,omitempty"`
	Text       string            `json:"text,omitempty"`
	Generation uint64            `json:"gen,omitempty"`
}

// changeLog makes mutations durable between flushes. Every change is
// appended and synced before it is applied in memory; a flush that has
// persisted segments and documents truncates the log.
type changeLog struct {
	f *os.File
}

func openChangeLog(dir string, readOnly bool) (*changeLog, []change, error) {
	path := filepath.Join(dir, ChangesFile)
	var (
		f   *os.File
		err error
	)
	if readOnly {
		f, err = os.Open(path)
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
	} else {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", ChangesFile, err)
	}
	var pending []change
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 64<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var c change
		// A torn last line belongs to a mutation that never completed.
		if err := json.Unmarshal(line, &c); err != nil {
			continue
		}
		pending = append(pending, c)
	}
	if err := sc.Err(); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("reading %s: %w", ChangesFile, err)
	}
	if readOnly {
		f.Close()
		return nil, pending, nil
	}
	return &changeLog{f: f}, pending, nil
}

func (l *changeLog) append(c change) error {
	if l == nil {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding change: %w", err)
	}
	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("writing %s: %w", ChangesFile, err)
	}
	if _, err := l.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing %s: %w", ChangesFile, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", ChangesFile, err)
	}
	return nil
}

func (l *changeLog) truncate() error {
	if l == nil {
		return nil
	}
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating %s: %w", ChangesFile, err)
	}
	return l.f.Sync()
}

func (l *changeLog) close() error {
	if l == nil {
		return nil
	}
	return l.f.Close()
}

// replayLocked applies changes recorded after the last flush.
func (e *Engine) replayLocked(changes []change) {
	for _, c := range changes {
		switch c.Op {
		case changePut:
			if c.Doc == nil {
				continue
			}
			e.putLocked(c.Key, c.Doc, c.Generation, tokenizer.Tokenize(c.Text))
		case changeRemove:
			e.removeLocked(c.Key)
		case changeModify:
			if sd, ok := e.docs[c.Key]; ok && c.Doc != nil {
				e.docs[c.Key] = &storedDoc{Doc: c.Doc, Generation: sd.Generation, Length: sd.Length}
				e.dirty = true
			}
		}
	}
	if len(changes) > 0 {
		e.logger.Info("replayed unflushed changes",
			"changes", len(changes),
			"documents", len(e.docs),
		)
	}
}
