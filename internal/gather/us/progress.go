package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	noDataFile    = ".no-data"
	completedFile = ".last-completed"
)

// checkpoint records gatherer progress in dir so an interrupted pass can
// resume. .no-data lists symbols that returned no bars for the current end
// date; .last-completed holds the end date of the last finished pass.
type checkpoint struct {
	dir string

	mu     sync.Mutex
	noData map[string]struct{}
	file   *os.File
	w      *bufio.Writer
}

func openCheckpoint(dir string) (*checkpoint, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	c := &checkpoint{dir: dir, noData: make(map[string]struct{})}

	data, err := os.ReadFile(c.path(noDataFile))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", noDataFile, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if sym := strings.TrimSpace(line); sym != "" {
			c.noData[sym] = struct{}{}
		}
	}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *checkpoint) path(name string) string { return filepath.Join(c.dir, name) }

func (c *checkpoint) open() error {
	f, err := os.OpenFile(c.path(noDataFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", noDataFile, err)
	}
	c.file = f
	c.w = bufio.NewWriter(f)
	return nil
}

// HasNoData reports whether sym already came back empty.
func (c *checkpoint) HasNoData(sym string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.noData[sym]
	return ok
}

// MarkNoData appends symbols to .no-data.
func (c *checkpoint) MarkNoData(symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sym := range symbols {
		if _, ok := c.noData[sym]; ok {
			continue
		}
		c.noData[sym] = struct{}{}
		if _, err := c.w.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing %s: %w", noDataFile, err)
		}
	}
	return c.w.Flush()
}

// LastCompleted returns the end date of the last finished pass, or "".
func (c *checkpoint) LastCompleted() string {
	data, err := os.ReadFile(c.path(completedFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// MarkCompleted records date as the end of a finished pass.
func (c *checkpoint) MarkCompleted(date string) error {
	return os.WriteFile(c.path(completedFile), []byte(date+"\n"), 0o644)
}

// Reset forgets every no-data symbol.
func (c *checkpoint) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file != nil {
		c.file.Close()
	}
	c.noData = make(map[string]struct{})
	if err := os.Remove(c.path(noDataFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", noDataFile, err)
	}
	return c.open()
}

// Close flushes and closes the no-data file.
func (c *checkpoint) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w != nil {
		c.w.Flush()
	}
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}
