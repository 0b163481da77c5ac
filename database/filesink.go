package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/causal"
)

// FileSink appends every batch to a text file, one content per line.
type FileSink struct {
	Path string
	lock sync.Mutex
	file *os.File
}

// OpenFileSink opens process_<id>.txt in dir for appending.
func OpenFileSink(dir string, id int) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("process_%d.txt", id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{Path: path, file: f}, nil
}

func (fs *FileSink) Append(b causal.Batch) error {
	if len(b.Messages) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, l := range b.Lines() {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if _, err := fs.file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("write %s: %w", fs.Path, err)
	}
	return nil
}

func (fs *FileSink) Close() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	return fs.file.Close()
}

// MultiSink hands every batch to each of its sinks.
type MultiSink []causal.Sink

func (ms MultiSink) Append(b causal.Batch) error {
	var errs []error
	for _, s := range ms {
		if err := s.Append(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ms MultiSink) Close() error {
	var errs []error
	for _, s := range ms {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
