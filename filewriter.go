package bagplay

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// FileWriter dumps played record envelopes to a file, one JSON envelope per
// line.  It is safe for use from a handler while connectors drain the same
// playback.
type FileWriter struct {
	file    *os.File
	path    string
	records uint64
	mu      sync.Mutex
	logger  *logrus.Logger
}

// NewFileWriter opens (or appends to) the dump file at path.
func NewFileWriter(path string, logger *logrus.Logger) (*FileWriter, error) {
	if logger == nil {
		logger = logrus.New()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	logger.Infoln("File writer initialized, writing to:", path)

	return &FileWriter{
		file:   file,
		path:   path,
		logger: logger,
	}, nil
}

// Write appends one envelope and its trailing newline.
func (fw *FileWriter) Write(data []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	_, err := fw.file.Write(data)
	if err != nil {
		return err
	}

	_, err = fw.file.Write([]byte("\n"))
	if err == nil {
		fw.records++
	}
	return err
}

// Records returns how many envelopes have been written.
func (fw *FileWriter) Records() uint64 {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.records
}

// Close closes the file
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.file != nil {
		return fw.file.Close()
	}
	return nil
}

// Sync flushes the file to disk
func (fw *FileWriter) Sync() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.file != nil {
		return fw.file.Sync()
	}
	return nil
}
