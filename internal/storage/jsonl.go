package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrClosed     = errors.New("jsonl writer is closed")
	ErrBufferFull = errors.New("jsonl buffer full")
)

// JSONLWriter appends records as JSON lines from a background goroutine.
// Files live under <baseDir>/<YYYY-MM-DD>/<subDir>/<name>.jsonl and rotate
// by size.
type JSONLWriter struct {
	baseDir   string
	subDir    string
	name      string
	maxSizeMB int
	log       *slog.Logger

	writeCh     chan any
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	mu          sync.Mutex
	currentDate string
	file        *lumberjack.Logger
	now         func() time.Time
}

// NewJSONLWriter creates a writer. name is the file base name; an empty name
// uses the creation timestamp.
func NewJSONLWriter(logger *slog.Logger, baseDir, subDir, name string, bufferSize, maxSizeMB int) *JSONLWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = fmt.Sprintf("%d", time.Now().Unix())
	}
	w := &JSONLWriter{
		baseDir:   baseDir,
		subDir:    subDir,
		name:      name,
		maxSizeMB: maxSizeMB,
		log:       logger,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}

	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues a record. It never blocks; a full buffer drops the record.
func (w *JSONLWriter) Write(record any) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		w.log.Warn("jsonl write buffer full, dropping record", "subdir", w.subDir, "name", w.name)
		return ErrBufferFull
	}
}

// Path returns the file currently being written, or "" before the first record.
func (w *JSONLWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ""
	}
	return w.file.Filename
}

// Close flushes queued records and closes the file. It is safe to call twice.
func (w *JSONLWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			for {
				select {
				case record := <-w.writeCh:
					w.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

func (w *JSONLWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		w.log.Error("failed to marshal record", "error", err, "subdir", w.subDir)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().UTC().Format("2006-01-02")
	if w.file == nil || date != w.currentDate {
		if err := w.rotateForDate(date); err != nil {
			w.log.Error("failed to open jsonl file", "error", err, "subdir", w.subDir)
			return
		}
	}

	if _, err := w.file.Write(append(data, '\n')); err != nil {
		w.log.Error("failed to write record", "error", err, "subdir", w.subDir)
	}
}

func (w *JSONLWriter) rotateForDate(date string) error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			w.log.Debug("jsonl close failed", "error", err)
		}
	}

	dir := filepath.Join(w.baseDir, date, w.subDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.file = nil
		return err
	}

	w.file = &lumberjack.Logger{
		Filename:   filepath.Join(dir, w.name+".jsonl"),
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
	}
	w.currentDate = date
	w.log.Debug("opened jsonl file", "file", w.file.Filename)
	return nil
}
