package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Step struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration_ms"`
}

type Trace struct {
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	Steps    []Step    `json:"steps"`
	TotalMS  float64   `json:"total_ms"`
	Slow     bool      `json:"slow,omitempty"`
	lastMark time.Time
	tel      *Telemetry
}

// Options tunes a Telemetry instance.
type Options struct {
	Dir           string
	SampleRate    float64
	SlowThreshold time.Duration
	BufferSize    int
	QueueCapacity int
	FlushInterval time.Duration
	MaxFileSize   int64
}

// Telemetry writes finished traces to one JSONL file per operation name from
// a background goroutine.
type Telemetry struct {
	opts     Options
	mu       sync.Mutex
	files    map[string]*os.File
	buffers  map[string]*bufio.Writer
	traces   chan *Trace
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	dropped  uint64
}

var tel *Telemetry

// Init installs the global instance used by Track.
func Init(opts Options) error {
	t, err := New(opts)
	if err != nil {
		return err
	}
	tel = t
	return nil
}

// Track starts a trace on the global instance. Without Init the trace is a
// no-op.
func Track(name string) *Trace {
	return tel.Track(name)
}

// Close stops the global instance.
func Close() {
	if tel != nil {
		tel.Close()
		tel = nil
	}
}

func New(opts Options) (*Telemetry, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("telemetry dir is empty")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64 * 1024
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 2048
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	t := &Telemetry{
		opts:    opts,
		files:   make(map[string]*os.File),
		buffers: make(map[string]*bufio.Writer),
		traces:  make(chan *Trace, opts.QueueCapacity),
		stopCh:  make(chan struct{}),
	}
	t.wg.Add(1)
	go t.writerLoop()
	return t, nil
}

func (t *Telemetry) Track(name string) *Trace {
	now := time.Now()
	return &Trace{
		Name:     name,
		Start:    now,
		lastMark: now,
		tel:      t,
	}
}

// Mark records the time elapsed since the previous mark.
func (tr *Trace) Mark(label string) {
	if tr.tel == nil {
		return
	}
	now := time.Now()
	tr.Steps = append(tr.Steps, Step{Name: label, Duration: now.Sub(tr.lastMark).Seconds() * 1000})
	tr.lastMark = now
}

// Finish enqueues the trace when it is sampled or slower than the threshold.
// Safe to call more than once.
func (tr *Trace) Finish() {
	t := tr.tel
	if t == nil {
		return
	}
	tr.tel = nil
	elapsed := time.Since(tr.Start)
	tr.TotalMS = elapsed.Seconds() * 1000
	tr.Slow = t.opts.SlowThreshold > 0 && elapsed >= t.opts.SlowThreshold
	if !tr.Slow && !t.sampled() {
		return
	}

	var sum float64
	for _, s := range tr.Steps {
		sum += s.Duration
	}
	if remaining := tr.TotalMS - sum; remaining > 0.001 {
		tr.Steps = append(tr.Steps, Step{Name: "unmarked", Duration: remaining})
	}

	// never block a request on a full queue
	select {
	case t.traces <- tr:
	default:
		t.mu.Lock()
		t.dropped++
		t.mu.Unlock()
	}
}

func (t *Telemetry) sampled() bool {
	switch {
	case t.opts.SampleRate >= 1:
		return true
	case t.opts.SampleRate <= 0:
		return false
	default:
		return rand.Float64() < t.opts.SampleRate
	}
}

// Dropped reports how many traces were discarded because the queue was full.
func (t *Telemetry) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

func (t *Telemetry) writerLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case tr := <-t.traces:
			t.write(tr)
		case <-ticker.C:
			t.flush()
		case <-t.stopCh:
			// drain whatever is still queued
			for drained := false; !drained; {
				select {
				case tr := <-t.traces:
					t.write(tr)
				default:
					drained = true
				}
			}
			t.mu.Lock()
			for _, b := range t.buffers {
				b.Flush()
			}
			for _, f := range t.files {
				f.Sync()
				f.Close()
			}
			t.mu.Unlock()
			return
		}
	}
}

func (t *Telemetry) write(tr *Trace) {
	data, err := json.Marshal(tr)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.getBufferFor(tr.Name)
	b.Write(data)
	b.WriteByte('\n')
}

func (t *Telemetry) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, b := range t.buffers {
		b.Flush()
		f := t.files[name]
		if t.opts.MaxFileSize <= 0 {
			continue
		}
		if fi, err := f.Stat(); err == nil && fi.Size() > t.opts.MaxFileSize {
			// truncate and recreate file when > max size
			f.Close()
			newF, err := os.OpenFile(f.Name(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "telemetry: failed to reopen %s: %v\n", f.Name(), err)
				delete(t.files, name)
				delete(t.buffers, name)
				continue
			}
			t.files[name] = newF
			t.buffers[name] = bufio.NewWriterSize(newF, t.opts.BufferSize)
		}
	}
}

func (t *Telemetry) getBufferFor(op string) *bufio.Writer {
	if b, ok := t.buffers[op]; ok {
		return b
	}
	path := filepath.Join(t.opts.Dir, fmt.Sprintf("%s.jsonl", op))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: failed to open %s: %v\n", path, err)
		return bufio.NewWriter(os.Stdout)
	}
	b := bufio.NewWriterSize(f, t.opts.BufferSize)
	t.files[op] = f
	t.buffers[op] = b
	return b
}

// Close stops the writer and flushes everything still buffered.
func (t *Telemetry) Close() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.wg.Wait()
	})
}
