package server

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"
)

// Transport carries newline-framed packets for one client connection.
// ReadLine is called from a single reader goroutine and WriteLine from a
// single writer goroutine; Close may be called from anywhere.
type Transport interface {
	// ReadLine returns the next packet without its line terminator
	ReadLine() ([]byte, error)

	// WriteLine writes one packet followed by the framing terminator
	WriteLine(line []byte) error

	Close() error
	RemoteAddr() string
}

// tcpTransport frames packets as lines on a stream socket
type tcpTransport struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	writer       *bufio.Writer
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func newTCPTransport(conn net.Conn, maxLine int, writeTimeout time.Duration) *tcpTransport {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, maxLine)), maxLine)
	return &tcpTransport{
		conn:         conn,
		scanner:      scanner,
		writer:       bufio.NewWriter(conn),
		writeTimeout: writeTimeout,
	}
}

func (t *tcpTransport) ReadLine() ([]byte, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	// The scanner reuses its buffer
	line := make([]byte, len(t.scanner.Bytes()))
	copy(line, t.scanner.Bytes())
	return line, nil
}

func (t *tcpTransport) WriteLine(line []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	if _, err := t.writer.Write(line); err != nil {
		return err
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return err
	}
	return t.writer.Flush()
}

func (t *tcpTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
