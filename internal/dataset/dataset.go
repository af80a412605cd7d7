// Package dataset reads and atomically replaces the published JSON dataset.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matsen/citewatch/internal/stats"
	"github.com/matsen/citewatch/internal/work"
)

// File names inside the data directory.
const (
	CitationsFile = "citations.json"
	StatsFile     = "stats.json"
	RawFile       = "raw_citations.json"
	PreviousFile  = "citations.prev.json"
	CacheDir      = ".cache"
	IndexFile     = "citations.db"
)

// ErrPersist indicates the dataset could not be written. When it is
// returned from Commit, no published file has been replaced.
var ErrPersist = errors.New("persisting dataset")

// CitationsDoc is the citations document: the cited work and the works citing it.
type CitationsDoc struct {
	Work    work.Target `json:"work"`
	Results []work.Work `json:"results"`
}

// Paths locates the dataset files under a data directory.
type Paths struct {
	Dir string
}

// Citations returns the path to citations.json.
func (p Paths) Citations() string { return filepath.Join(p.Dir, CitationsFile) }

// Stats returns the path to stats.json.
func (p Paths) Stats() string { return filepath.Join(p.Dir, StatsFile) }

// Raw returns the path to the unprocessed fetch snapshot.
func (p Paths) Raw() string { return filepath.Join(p.Dir, RawFile) }

// Previous returns the path to the citations document replaced by the last commit.
func (p Paths) Previous() string { return filepath.Join(p.Dir, PreviousFile) }

// Index returns the path to the ephemeral query database.
func (p Paths) Index() string { return filepath.Join(p.Dir, CacheDir, IndexFile) }

// ReadCitations reads a citations document. A missing file returns nil, nil.
func ReadCitations(path string) (*CitationsDoc, error) {
	var doc CitationsDoc
	found, err := readJSON(path, &doc)
	if err != nil || !found {
		return nil, err
	}
	return &doc, nil
}

// ReadStats reads a statistics document. A missing file returns nil, nil.
func ReadStats(path string) (*stats.Snapshot, error) {
	var s stats.Snapshot
	found, err := readJSON(path, &s)
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// Encode renders v as two-space indented JSON with a trailing newline.
// Map keys are sorted, so equal values encode to equal bytes.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSONAtomic encodes v and replaces path with it atomically.
func WriteJSONAtomic(path string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPersist, filepath.Base(path), err)
	}

	var b batch
	defer b.cleanup()
	if err := b.stage(path, data); err != nil {
		return err
	}
	return b.commit()
}

// Commit publishes a new citations/stats pair. Both documents are encoded
// and staged in full before the first rename, so an encoding or write
// failure leaves every published file untouched. The replaced citations
// document is kept as citations.prev.json for change reporting.
func Commit(p Paths, doc CitationsDoc, snap stats.Snapshot) error {
	citations, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("%w: encoding citations: %w", ErrPersist, err)
	}
	statsData, err := Encode(snap)
	if err != nil {
		return fmt.Errorf("%w: encoding stats: %w", ErrPersist, err)
	}

	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return fmt.Errorf("%w: creating data directory: %w", ErrPersist, err)
	}

	prev, err := os.ReadFile(p.Citations())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: reading current citations: %w", ErrPersist, err)
	}

	var b batch
	defer b.cleanup()
	if prev != nil {
		if err := b.stage(p.Previous(), prev); err != nil {
			return err
		}
	}
	if err := b.stage(p.Citations(), citations); err != nil {
		return err
	}
	if err := b.stage(p.Stats(), statsData); err != nil {
		return err
	}
	return b.commit()
}

// SaveRaw atomically writes the unprocessed fetch snapshot.
func SaveRaw(p Paths, doc CitationsDoc) error {
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return fmt.Errorf("%w: creating data directory: %w", ErrPersist, err)
	}
	return WriteJSONAtomic(p.Raw(), doc)
}

// batch is a set of fully written temp files awaiting rename.
type batch struct {
	files []stagedFile
}

type stagedFile struct {
	tmp  string
	dest string
}

// stage writes data to a synced temp file next to dest.
func (b *batch) stage(dest string, data []byte) error {
	// Create temp file in same directory for atomic rename
	tmpFile, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrPersist, err)
	}
	tmpPath := tmpFile.Name()
	b.files = append(b.files, stagedFile{tmp: tmpPath, dest: dest})

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("%w: writing %s: %w", ErrPersist, filepath.Base(dest), err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("%w: syncing temp file: %w", ErrPersist, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %w", ErrPersist, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("%w: setting permissions: %w", ErrPersist, err)
	}
	return nil
}

// commit renames every staged file into place in staging order.
func (b *batch) commit() error {
	for i, f := range b.files {
		if err := os.Rename(f.tmp, f.dest); err != nil {
			return fmt.Errorf("%w: renaming %s: %w", ErrPersist, filepath.Base(f.dest), err)
		}
		b.files[i].tmp = ""
	}
	return nil
}

// cleanup removes temp files that were never renamed.
func (b *batch) cleanup() {
	for _, f := range b.files {
		if f.tmp != "" {
			os.Remove(f.tmp)
		}
	}
}
