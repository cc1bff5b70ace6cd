package mailbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// compactionSlack is how many dead records are tolerated before a rewrite.
const compactionSlack = 256

const (
	opStore   = "store"
	opDeliver = "deliver"
	opEvict   = "evict"
)

// record is one journal line. store carries an entry; deliver and evict
// carry entry IDs.
type record struct {
	Op    string   `json:"op"`
	Entry *Entry   `json:"entry,omitempty"`
	IDs   []string `json:"ids,omitempty"`
}

// journal is the append-only on-disk log behind the mailbox. Not safe for
// concurrent use; the Store's mutex covers it.
type journal struct {
	path    string
	file    *os.File
	records int
}

// openJournal replays the journal at path and returns the live entries in
// storage order. A malformed line ends replay with an error: a truncated
// tail would silently lose mail.
func openJournal(path string) (*journal, []*Entry, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create journal directory: %w", err)
	}

	entries, records, err := replay(path)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}

	return &journal{path: path, file: file, records: records}, entries, nil
}

func replay(path string) ([]*Entry, int, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open journal for replay: %w", err)
	}
	defer file.Close()

	byID := make(map[string]*Entry)
	var order []string
	records := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		records++

		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, 0, fmt.Errorf("journal line %d is corrupt: %w", records, err)
		}

		switch rec.Op {
		case opStore:
			if rec.Entry == nil || rec.Entry.ID == "" {
				return nil, 0, fmt.Errorf("journal line %d: store without entry", records)
			}
			byID[rec.Entry.ID] = rec.Entry
			order = append(order, rec.Entry.ID)
		case opDeliver, opEvict:
			for _, id := range rec.IDs {
				delete(byID, id)
			}
		default:
			return nil, 0, fmt.Errorf("journal line %d: unknown op %q", records, rec.Op)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read journal: %w", err)
	}

	var entries []*Entry
	for _, id := range order {
		if e, ok := byID[id]; ok {
			entries = append(entries, e)
			delete(byID, id)
		}
	}
	return entries, records, nil
}

func (j *journal) append(rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}
	data = append(data, '\n')
	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("append journal record: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	j.records++
	return nil
}

func (j *journal) appendStore(e *Entry) error {
	return j.append(record{Op: opStore, Entry: e})
}

func (j *journal) appendDeliver(ids []string) error {
	return j.append(record{Op: opDeliver, IDs: ids})
}

func (j *journal) appendEvict(id string) error {
	return j.append(record{Op: opEvict, IDs: []string{id}})
}

func (j *journal) needsCompaction(live int) bool {
	return j.records > live+compactionSlack
}

// compact rewrites the journal with only live entries. Write-then-rename so
// a crash mid-compaction leaves the old journal intact.
func (j *journal) compact(entries []*Entry) error {
	tmpPath := j.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create compaction file: %w", err)
	}

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		data, err := json.Marshal(record{Op: opStore, Entry: e})
		if err != nil {
			tmp.Close()
			return fmt.Errorf("marshal entry: %w", err)
		}
		data = append(data, '\n')
		if _, err := w.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("write compaction file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush compaction file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close compaction file: %w", err)
	}

	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close old journal: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("swap journal: %w", err)
	}

	file, err := os.OpenFile(j.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen journal: %w", err)
	}
	j.file = file
	j.records = len(entries)
	return nil
}

func (j *journal) close() error {
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
