package gather

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// progressTracker records which symbols a gathering pass has already stored
// (.gathered) and the end date of the last complete pass (.last-completed),
// so an interrupted pass resumes where it stopped.
type progressTracker struct {
	mu       sync.Mutex
	done     map[string]struct{}
	writer   *bufio.Writer
	file     *os.File
	dailyDir string // <DataDir>/<market>/daily
}

// newProgressTracker creates a tracker rooted at dailyDir and loads any
// existing .gathered entries.
func newProgressTracker(dailyDir string) (*progressTracker, error) {
	if err := os.MkdirAll(dailyDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating daily dir: %w", err)
	}
	pt := &progressTracker{
		done:     make(map[string]struct{}),
		dailyDir: dailyDir,
	}
	if data, err := os.ReadFile(pt.path(".gathered")); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				pt.done[sym] = struct{}{}
			}
		}
	}
	if err := pt.open(); err != nil {
		return nil, err
	}
	return pt, nil
}

func (p *progressTracker) path(name string) string {
	return filepath.Join(p.dailyDir, name)
}

func (p *progressTracker) open() error {
	f, err := os.OpenFile(p.path(".gathered"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening .gathered: %w", err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	return nil
}

// IsDone reports whether symbol was stored in the current pass.
func (p *progressTracker) IsDone(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.done[symbol]
	return ok
}

// MarkDone records symbol as stored.
func (p *progressTracker) MarkDone(symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.done[symbol]; ok {
		return nil
	}
	p.done[symbol] = struct{}{}
	if _, err := p.writer.WriteString(symbol + "\n"); err != nil {
		return fmt.Errorf("writing to .gathered: %w", err)
	}
	return p.writer.Flush()
}

// MarkCompleted writes date to .last-completed.
func (p *progressTracker) MarkCompleted(date string) error {
	return os.WriteFile(p.path(".last-completed"), []byte(date), 0o644)
}

// LastCompleted returns the date in .last-completed, or "".
func (p *progressTracker) LastCompleted() string {
	data, err := os.ReadFile(p.path(".last-completed"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Reset clears .gathered for a new pass.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file != nil {
		p.file.Close()
	}
	p.done = make(map[string]struct{})
	os.Remove(p.path(".gathered"))
	return p.open()
}

// Close flushes and closes .gathered.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
