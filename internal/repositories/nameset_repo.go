package repositories

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// NameSetRepository is an append-only durable set of case-normalized player
// names. Lookups are lock-free; appends are serialized per file. Once a name
// is added it stays for the process lifetime, and the backing file guarantees
// it survives a restart: Add flushes the line to disk before returning.
type NameSetRepository struct {
	names    sync.Map // lower-cased name -> struct{}
	appendMu sync.Mutex
	file     *os.File
	path     string
	count    int64
	countMu  sync.Mutex
}

// NewNameSetRepository loads the set from path (one name per line, created if
// absent) and keeps the file open for appends.
func NewNameSetRepository(path string) (*NameSetRepository, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open name set %s: %w", path, err)
	}

	repo := &NameSetRepository{
		file: file,
		path: path,
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		name := normalizeName(scanner.Text())
		if name == "" {
			continue
		}
		if _, loaded := repo.names.LoadOrStore(name, struct{}{}); !loaded {
			repo.count++
		}
	}
	if err := scanner.Err(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read name set %s: %w", path, err)
	}

	return repo, nil
}

// Contains reports whether name is in the set. Comparison is case-insensitive.
func (r *NameSetRepository) Contains(name string) bool {
	_, ok := r.names.Load(normalizeName(name))
	return ok
}

// Add inserts name into the set. It returns true only for the caller that
// actually inserted the name, so concurrent adds of the same name persist it
// exactly once. A non-nil error means the in-memory set was updated but the
// append did not reach disk; the entry will not survive a restart.
func (r *NameSetRepository) Add(name string) (bool, error) {
	key := normalizeName(name)
	if key == "" {
		return false, fmt.Errorf("empty name")
	}

	if _, loaded := r.names.LoadOrStore(key, struct{}{}); loaded {
		return false, nil
	}

	r.countMu.Lock()
	r.count++
	r.countMu.Unlock()

	r.appendMu.Lock()
	defer r.appendMu.Unlock()

	if _, err := r.file.WriteString(key + "\n"); err != nil {
		return true, fmt.Errorf("failed to append to %s: %w", r.path, err)
	}
	if err := r.file.Sync(); err != nil {
		return true, fmt.Errorf("failed to flush %s: %w", r.path, err)
	}
	return true, nil
}

// Len returns the number of names in the set.
func (r *NameSetRepository) Len() int {
	r.countMu.Lock()
	defer r.countMu.Unlock()
	return int(r.count)
}

// Close releases the backing file.
func (r *NameSetRepository) Close() error {
	return r.file.Close()
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
