package archive

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

const dayLayout = "2006-01-02"

// Record is one archived source response
type Record struct {
	ExternalID int64                 `json:"externalId"`
	FetchedAt  time.Time             `json:"fetchedAt"`
	Response   *types.SourceResponse `json:"response"`
}

// Writer appends raw source responses to one JSON-lines file per UTC day.
// When the day changes the previous file is closed and gzip-compressed.
type Writer struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	file *os.File
	day  string
	wg   sync.WaitGroup
}

// New creates a Writer storing files under dir
func New(dir string, logger *slog.Logger) *Writer {
	return &Writer{
		dir:    dir,
		logger: logger.With("component", "archive"),
		now:    time.Now,
	}
}

// FileName returns the archive file name for the UTC day of t
func FileName(t time.Time) string {
	return fmt.Sprintf("positions_%s.jsonl", t.UTC().Format(dayLayout))
}

// Start creates the directory and opens today's file
func (w *Writer) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotate(w.now())
}

// Stop closes the current file and waits for pending compressions
func (w *Writer) Stop() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

// Record appends one response, rotating first if the UTC day changed
func (w *Writer) Record(externalID int64, resp *types.SourceResponse) error {
	now := w.now()
	line, err := json.Marshal(Record{ExternalID: externalID, FetchedAt: now.UTC(), Response: resp})
	if err != nil {
		return fmt.Errorf("failed to encode archive record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil || now.UTC().Format(dayLayout) != w.day {
		if err := w.rotate(now); err != nil {
			return err
		}
	}
	_, err = w.file.Write(line)
	return err
}

// rotate switches to the file for now; the caller holds mu
func (w *Writer) rotate(now time.Time) error {
	if w.file != nil {
		previous := w.file.Name()
		if err := w.file.Close(); err != nil {
			w.logger.Warn("failed to close archive file", "file", previous, "error", err)
		}
		w.file = nil

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := compressFile(previous); err != nil {
				w.logger.Error("failed to compress archive file", "file", previous, "error", err)
				return
			}
			w.logger.Info("compressed archive file", "file", previous+".gz")
		}()
	}

	name := filepath.Join(w.dir, FileName(now))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	w.file = file
	w.day = now.UTC().Format(dayLayout)
	return nil
}

// compressFile gzips path into path.gz and removes the original
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gz := gzip.NewWriter(target)
	if _, err := io.Copy(gz, source); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if err := target.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
