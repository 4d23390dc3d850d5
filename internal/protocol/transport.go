package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// Error classes surfaced by the transport. Callers distinguish them with
// errors.Is; everything else is an unclassified I/O failure.
var (
	// ErrTimeout reports that no complete message arrived within the
	// bounded read wait.
	ErrTimeout = errors.New("protocol: read timeout")

	// ErrClosed reports orderly connection closure by the peer.
	ErrClosed = errors.New("protocol: connection closed")

	// ErrFraming reports a structural protocol violation: malformed header,
	// record count never reached, unexpected line where the sentinel was due.
	ErrFraming = errors.New("protocol: framing error")

	// ErrUnexpectedReply reports a protocol-sequence violation: the peer
	// answered something other than what the exchange requires.
	ErrUnexpectedReply = errors.New("protocol: unexpected reply")
)

const readChunkSize = 4096

// sentinel terminates every bulk record block.
const sentinel = "."

// DataHeader describes a DATA <count> <recordLength> bulk reply header.
type DataHeader struct {
	Count        int
	RecordLength int
}

// ParseDataHeader parses a bulk block header line.
func ParseDataHeader(line string) (DataHeader, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "DATA" {
		return DataHeader{}, fmt.Errorf("%w: malformed DATA header %q", ErrFraming, line)
	}

	count, err := strconv.Atoi(fields[1])
	if err != nil || count < 0 {
		return DataHeader{}, fmt.Errorf("%w: bad record count in %q", ErrFraming, line)
	}

	recLen, err := strconv.Atoi(fields[2])
	if err != nil || recLen < 0 {
		return DataHeader{}, fmt.Errorf("%w: bad record length in %q", ErrFraming, line)
	}

	return DataHeader{Count: count, RecordLength: recLen}, nil
}

// Transport turns the simulator's byte stream into discrete protocol
// messages. It owns a read buffer that persists across calls, so messages
// fragmented over any number of socket reads are reassembled without losing
// bytes between call boundaries. Not safe for concurrent use; the session
// is strictly synchronous.
type Transport struct {
	conn        net.Conn
	readTimeout time.Duration
	buf         []byte
	logger      *slog.Logger
}

// NewTransport wraps an established simulator connection. readTimeout
// bounds every individual read wait; it is fixed at construction and never
// toggled per call.
func NewTransport(conn net.Conn, readTimeout time.Duration, logger *slog.Logger) *Transport {
	return &Transport{
		conn:        conn,
		readTimeout: readTimeout,
		logger:      logger,
	}
}

// SendLine writes a single newline-terminated message. The terminator is
// appended here so callers never deal with framing. A write failure is
// fatal to the session and is propagated, never retried.
func (t *Transport) SendLine(text string) error {
	msg := make([]byte, 0, len(text)+1)
	msg = append(msg, text...)
	msg = append(msg, '\n')

	if _, err := t.conn.Write(msg); err != nil {
		return fmt.Errorf("send %q: %w", text, err)
	}

	t.logger.Debug("sent line", slog.String("text", text))
	return nil
}

// ReadLine returns the next newline-delimited message, blocking until a
// full line is buffered, the read wait expires (ErrTimeout), or the peer
// closes the connection (ErrClosed). A trailing carriage return is
// stripped.
func (t *Transport) ReadLine() (string, error) {
	for {
		if i := bytes.IndexByte(t.buf, '\n'); i >= 0 {
			line := strings.TrimSuffix(string(t.buf[:i]), "\r")
			t.buf = t.buf[i+1:]
			t.logger.Debug("read line", slog.String("text", line))
			return line, nil
		}

		if err := t.fill(); err != nil {
			return "", err
		}
	}
}

// ReadBulk consumes one bulk record block described by header: it
// acknowledges the header with OK (the simulator waits for it before
// streaming), then reads exactly header.Count non-blank record lines
// followed by the terminating sentinel. Blank lines between records are
// skipped. Record lines are returned raw; parsing is the caller's concern.
func (t *Transport) ReadBulk(header DataHeader) ([]string, error) {
	if err := t.SendLine("OK"); err != nil {
		return nil, err
	}

	records := make([]string, 0, header.Count)
	for len(records) < header.Count {
		line, err := t.ReadLine()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil, fmt.Errorf("%w: connection closed after %d of %d records",
					ErrFraming, len(records), header.Count)
			}
			return nil, fmt.Errorf("bulk record %d of %d: %w", len(records)+1, header.Count, err)
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == sentinel {
			return nil, fmt.Errorf("%w: sentinel after %d of %d records",
				ErrFraming, len(records), header.Count)
		}

		records = append(records, line)
	}

	for {
		line, err := t.ReadLine()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil, fmt.Errorf("%w: connection closed before sentinel", ErrFraming)
			}
			return nil, fmt.Errorf("awaiting sentinel: %w", err)
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed != sentinel {
			return nil, fmt.Errorf("%w: expected sentinel, got %q", ErrFraming, line)
		}
		return records, nil
	}
}

// fill performs one bounded read and appends whatever arrived to the
// buffer. Data received alongside an error is kept; the error surfaces on
// the next empty read.
func (t *Transport) fill() error {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	chunk := make([]byte, readChunkSize)
	n, err := t.conn.Read(chunk)
	if n > 0 {
		t.buf = append(t.buf, chunk[:n]...)
		return nil
	}

	if err == nil {
		// Zero-byte read without an error; try again.
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, io.EOF) {
		return ErrClosed
	}
	return fmt.Errorf("read: %w", err)
}
