package repositories

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// BlacklistRepository is the durable IP blacklist, consulted before any other
// admission check. Entries are permanent for the process lifetime; removal
// only happens out-of-band by editing the file and restarting.
//
// File format: one entry per line, "ip<TAB>RFC3339 timestamp". Lines with no
// timestamp (hand-added) are accepted on load.
type BlacklistRepository struct {
	entries  sync.Map // ip string -> time.Time
	appendMu sync.Mutex
	file     *os.File
	path     string
	count    int64
	countMu  sync.Mutex
}

// NewBlacklistRepository loads the blacklist from path, creating it if absent.
func NewBlacklistRepository(path string) (*BlacklistRepository, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open blacklist %s: %w", path, err)
	}

	repo := &BlacklistRepository{
		file: file,
		path: path,
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ip := line
		addedAt := time.Now()
		if tab := strings.IndexByte(line, '\t'); tab >= 0 {
			ip = line[:tab]
			if ts, err := time.Parse(time.RFC3339, line[tab+1:]); err == nil {
				addedAt = ts
			}
		}
		if _, loaded := repo.entries.LoadOrStore(ip, addedAt); !loaded {
			repo.count++
		}
	}
	if err := scanner.Err(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read blacklist %s: %w", path, err)
	}

	return repo, nil
}

// Contains reports whether ip is blacklisted.
func (r *BlacklistRepository) Contains(ip string) bool {
	_, ok := r.entries.Load(ip)
	return ok
}

// Add blacklists ip at the current time. Returns true for the caller that
// inserted the entry. A non-nil error means the entry is active in memory
// but was not persisted.
func (r *BlacklistRepository) Add(ip string) (bool, error) {
	now := time.Now()
	if _, loaded := r.entries.LoadOrStore(ip, now); loaded {
		return false, nil
	}

	r.countMu.Lock()
	r.count++
	r.countMu.Unlock()

	r.appendMu.Lock()
	defer r.appendMu.Unlock()

	line := fmt.Sprintf("%s\t%s\n", ip, now.UTC().Format(time.RFC3339))
	if _, err := r.file.WriteString(line); err != nil {
		return true, fmt.Errorf("failed to append to %s: %w", r.path, err)
	}
	if err := r.file.Sync(); err != nil {
		return true, fmt.Errorf("failed to flush %s: %w", r.path, err)
	}
	return true, nil
}

// AddedAt returns when ip was blacklisted, if it is.
func (r *BlacklistRepository) AddedAt(ip string) (time.Time, bool) {
	v, ok := r.entries.Load(ip)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Len returns the number of blacklisted addresses.
func (r *BlacklistRepository) Len() int {
	r.countMu.Lock()
	defer r.countMu.Unlock()
	return int(r.count)
}

// Close releases the backing file.
func (r *BlacklistRepository) Close() error {
	return r.file.Close()
}
