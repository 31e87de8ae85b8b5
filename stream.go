package bagplay

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

var (
	// errCleanEOF marks end of file at a record boundary.
	errCleanEOF = errors.New("end of bag")
	// errTruncated marks end of file in the middle of a record.
	errTruncated = errors.New("bag truncated mid-record")
)

// byteStream is a sequential reader over the bag file.  It owns the file
// handle and distinguishes clean end of file at a record boundary from a
// truncation inside one.
type byteStream struct {
	file *os.File
	r    *bufio.Reader
	ok   bool
}

func newByteStream(file *os.File) *byteStream {
	return &byteStream{
		file: file,
		r:    bufio.NewReader(file),
		ok:   true,
	}
}

// good reports whether the stream can still produce bytes.
func (s *byteStream) good() bool {
	return s.ok && s.file != nil
}

// readExact fills buf completely.  io.EOF with zero bytes read maps to
// errCleanEOF; a short read maps to errTruncated.  Both mark the stream bad.
func (s *byteStream) readExact(buf []byte) error {
	_, err := io.ReadFull(s.r, buf)
	if err == io.EOF {
		s.ok = false
		return errCleanEOF
	}
	if err == io.ErrUnexpectedEOF {
		s.ok = false
		return errTruncated
	}
	if err != nil {
		s.ok = false
		return errors.Wrap(err, "failed to read from bag stream")
	}
	return nil
}

// readLine reads one LF-terminated line with the LF stripped.  EOF before
// any byte maps to errCleanEOF; EOF inside a line maps to errTruncated.
func (s *byteStream) readLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err == io.EOF {
		s.ok = false
		if line == "" {
			return "", errCleanEOF
		}
		return "", errTruncated
	}
	if err != nil {
		s.ok = false
		return "", errors.Wrap(err, "failed to read line from bag stream")
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// skip discards n bytes.  EOF before all n bytes maps to errTruncated.
func (s *byteStream) skip(n uint32) error {
	_, err := s.r.Discard(int(n))
	if err == io.EOF {
		s.ok = false
		return errTruncated
	}
	if err != nil {
		s.ok = false
		return errors.Wrap(err, "failed to skip bag record body")
	}
	return nil
}

// rewind seeks back to the start of the file.  Only the V0.0 banner
// fallback needs it.
func (s *byteStream) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		s.ok = false
		return errors.Wrap(err, "failed to rewind bag stream")
	}
	s.r.Reset(s.file)
	s.ok = true
	return nil
}

// close releases the file handle.
func (s *byteStream) close() {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			log.Warnln("Failed to close bag file:", err)
		}
		s.file = nil
	}
	s.ok = false
}
