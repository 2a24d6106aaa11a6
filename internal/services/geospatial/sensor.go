package geospatial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"
)

// ErrNoReading is returned by ReadLine when a read timed out without a line
var ErrNoReading = errors.New("no data from position sensor")

const maxLineBytes = 4096

// PositionSource yields line-oriented fix reports
type PositionSource interface {
	ReadLine() (string, error)
	Close() error
}

// LineSource splits a byte stream into lines. A zero-byte read, as
// produced by a serial read timeout, is reported as ErrNoReading.
type LineSource struct {
	r       io.Reader
	closer  io.Closer
	buf     []byte
	pending []byte
	eof     bool
}

// NewLineSource wraps r. closer may be nil.
func NewLineSource(r io.Reader, closer io.Closer) *LineSource {
	return &LineSource{r: r, closer: closer, buf: make([]byte, 512)}
}

// OpenSerial opens a serial position sensor at the given baud rate
func OpenSerial(port string, baud int) (*LineSource, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	if err := p.SetReadTimeout(time.Second); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", port, err)
	}
	return NewLineSource(p, p), nil
}

// OpenReplay replays an NMEA log file
func OpenReplay(path string) (*LineSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open NMEA replay %s: %w", path, err)
	}
	return NewLineSource(f, f), nil
}

func (s *LineSource) ReadLine() (string, error) {
	for {
		if idx := bytes.IndexByte(s.pending, '\n'); idx >= 0 {
			line := string(s.pending[:idx])
			s.pending = s.pending[idx+1:]
			return strings.TrimRight(line, "\r"), nil
		}
		if s.eof {
			if len(s.pending) > 0 {
				line := string(s.pending)
				s.pending = nil
				return strings.TrimRight(line, "\r"), nil
			}
			return "", io.EOF
		}

		n, err := s.r.Read(s.buf)
		if n > 0 {
			s.pending = append(s.pending, s.buf[:n]...)
			if len(s.pending) > maxLineBytes {
				// drop the runaway line but keep whatever follows its newline
				idx := bytes.IndexByte(s.pending, '\n')
				switch {
				case idx < 0:
					s.pending = s.pending[:0]
				case idx > maxLineBytes:
					s.pending = s.pending[idx+1:]
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
				continue
			}
			return "", err
		}
		if n == 0 {
			return "", ErrNoReading
		}
	}
}

func (s *LineSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
