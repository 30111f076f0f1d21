package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"warehouse.ai/internal/sim/warehouse"
)

// HourlyLayout names one segment per UTC hour.
const HourlyLayout = "2006-01-02-15"

const segmentSuffix = ".jsonl.zst"

// SegmentWriter appends JSON lines to zstd-compressed segment files under dir,
// starting a new segment whenever the formatted clock changes.
type SegmentWriter struct {
	dir    string
	prefix string
	layout string
	now    func() time.Time

	mu     sync.Mutex
	curSeg string
	f      *os.File
	enc    *zstd.Encoder
	bw     *bufio.Writer
}

func NewSegmentWriter(dir, prefix string) *SegmentWriter {
	return &SegmentWriter{dir: dir, prefix: prefix, layout: HourlyLayout, now: time.Now}
}

// WithLayout overrides the rotation granularity, e.g. "2006-01-02-15-04" for
// per-minute segments.
func (w *SegmentWriter) WithLayout(layout string) *SegmentWriter {
	if layout != "" {
		w.layout = layout
	}
	return w
}

func (w *SegmentWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seg := w.now().UTC().Format(w.layout)
	if seg != w.curSeg || w.bw == nil {
		if err := w.openLocked(seg); err != nil {
			return err
		}
	}
	if _, err := w.bw.Write(b); err != nil {
		return err
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return err
	}
	return w.bw.Flush()
}

func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *SegmentWriter) openLocked(seg string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	p := filepath.Join(w.dir, fmt.Sprintf("%s-%s%s", w.prefix, seg, segmentSuffix))
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc = f, enc
	w.bw = bufio.NewWriterSize(enc, 64*1024)
	w.curSeg = seg
	return nil
}

func (w *SegmentWriter) closeLocked() error {
	var err error
	if w.bw != nil {
		err = w.bw.Flush()
		w.bw = nil
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	return err
}

// TickLogger records one entry per tick and per reset under <runDir>/ticks.
type TickLogger struct{ w *SegmentWriter }

func NewTickLogger(runDir string) *TickLogger {
	return &TickLogger{w: NewSegmentWriter(filepath.Join(runDir, "ticks"), "ticks")}
}

func (l *TickLogger) WriteTick(e warehouse.TickLogEntry) error { return l.w.Write(e) }
func (l *TickLogger) Close() error                             { return l.w.Close() }

// AuditLogger records staffing and layout changes under <runDir>/audit.
type AuditLogger struct{ w *SegmentWriter }

func NewAuditLogger(runDir string) *AuditLogger {
	return &AuditLogger{w: NewSegmentWriter(filepath.Join(runDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(e warehouse.AuditEntry) error { return l.w.Write(e) }
func (l *AuditLogger) Close() error                            { return l.w.Close() }

// EpisodeLogger records one summary per finished episode under <runDir>/episodes.
type EpisodeLogger struct{ w *SegmentWriter }

func NewEpisodeLogger(runDir string) *EpisodeLogger {
	return &EpisodeLogger{w: NewSegmentWriter(filepath.Join(runDir, "episodes"), "episodes")}
}

func (l *EpisodeLogger) WriteEpisode(s warehouse.EpisodeSummary) error { return l.w.Write(s) }
func (l *EpisodeLogger) Close() error                                  { return l.w.Close() }

// Segments lists the segment files in dir in write order. Segment names sort
// chronologically because the layout is big-endian.
func Segments(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), segmentSuffix) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ReadTicks decodes every tick entry found in the segments of runDir, in the
// order they were written.
func ReadTicks(runDir string) ([]warehouse.TickLogEntry, error) {
	segs, err := Segments(filepath.Join(runDir, "ticks"))
	if err != nil {
		return nil, err
	}
	var out []warehouse.TickLogEntry
	for _, p := range segs {
		err := readSegment(p, func(line []byte) error {
			var e warehouse.TickLogEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
	}
	return out, nil
}

func readSegment(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	r := bufio.NewReader(dec)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 && line[0] != '\n' {
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
