package xlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// RotatingFile is an io.Writer that rotates to a new numbered file once the
// current file exceeds maxSizeBytes or every rotateEvery (hour-interval
// based, per log_rotation_hour_interval), and prunes old files once the
// directory exceeds maxDirBytes. A flock guards rotation so multiple
// processes sharing a log directory (e.g. a read-only replica started
// alongside the writer) don't corrupt each other's rotation bookkeeping.
type RotatingFile struct {
	dir          string
	prefix       string
	maxSizeBytes int64
	rotateEvery  time.Duration
	maxDirBytes  int64

	mu          sync.Mutex
	file        *os.File
	lock        *flock.Flock
	curSize     int64
	lastRotated time.Time
}

// NewRotatingFile opens (creating if needed) the active log file under dir.
func NewRotatingFile(dir, prefix string, maxSizeBytes int64, rotateEvery time.Duration, maxDirBytes int64) (*RotatingFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("xlog: creating log directory %q: %w", dir, err)
	}
	rf := &RotatingFile{
		dir:          dir,
		prefix:       prefix,
		maxSizeBytes: maxSizeBytes,
		rotateEvery:  rotateEvery,
		maxDirBytes:  maxDirBytes,
		lock:         flock.New(filepath.Join(dir, prefix+".rotate.lock")),
		lastRotated:  time.Now(),
	}
	if err := rf.openCurrent(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) currentPath() string {
	return filepath.Join(rf.dir, rf.prefix+".log")
}

func (rf *RotatingFile) openCurrent() error {
	f, err := os.OpenFile(rf.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("xlog: opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	rf.file = f
	rf.curSize = info.Size()
	return nil
}

// Write implements io.Writer, rotating before the write would push the
// current file over its size or time budget.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.needsRotation(len(p)) {
		if err := rf.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := rf.file.Write(p)
	rf.curSize += int64(n)
	return n, err
}

func (rf *RotatingFile) needsRotation(nextWrite int) bool {
	if rf.maxSizeBytes > 0 && rf.curSize+int64(nextWrite) > rf.maxSizeBytes {
		return true
	}
	if rf.rotateEvery > 0 && time.Since(rf.lastRotated) >= rf.rotateEvery {
		return true
	}
	return false
}

func (rf *RotatingFile) rotateLocked() error {
	if err := rf.lock.Lock(); err != nil {
		return fmt.Errorf("xlog: acquiring rotation lock: %w", err)
	}
	defer rf.lock.Unlock()

	if rf.file != nil {
		rf.file.Close()
	}
	idx := rf.nextIndex()
	rotated := filepath.Join(rf.dir, fmt.Sprintf("%s.%d.log", rf.prefix, idx))
	if err := os.Rename(rf.currentPath(), rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("xlog: rotating log file: %w", err)
	}
	rf.lastRotated = time.Now()
	if err := rf.openCurrent(); err != nil {
		return err
	}
	return rf.pruneLocked()
}

func (rf *RotatingFile) nextIndex() int {
	entries, _ := os.ReadDir(rf.dir)
	max := 0
	for _, e := range entries {
		var idx int
		if _, err := fmt.Sscanf(e.Name(), rf.prefix+".%d.log", &idx); err == nil && idx > max {
			max = idx
		}
	}
	return max + 1
}

// pruneLocked deletes the oldest rotated files until total directory size is
// back under maxDirBytes. Called with rf.mu held.
func (rf *RotatingFile) pruneLocked() error {
	if rf.maxDirBytes <= 0 {
		return nil
	}
	entries, err := os.ReadDir(rf.dir)
	if err != nil {
		return nil
	}
	type fileInfo struct {
		path string
		size int64
		mod  time.Time
	}
	var files []fileInfo
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
		files = append(files, fileInfo{path: filepath.Join(rf.dir, e.Name()), size: info.Size(), mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for _, f := range files {
		if total <= rf.maxDirBytes {
			break
		}
		if f.path == rf.currentPath() {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(filepath.Base(f.path), rf.prefix+".%d.log", &idx); err != nil {
			continue
		}
		if err := os.Remove(f.path); err == nil {
			total -= f.size
		}
	}
	return nil
}

// Close closes the active file handle.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	return rf.file.Close()
}
