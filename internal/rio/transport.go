package rio

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// lineTerminator ends every outbound command.
const lineTerminator = "\r"

// Transport is a line-framed, full-duplex byte stream to one controller.
//
// ReadLine is called by a single reader goroutine and WriteLine by the
// session goroutine; Close must unblock a pending ReadLine.
type Transport interface {
	// ReadLine returns the next line without its terminator.
	ReadLine() (string, error)

	// WriteLine sends one command, appending the protocol terminator.
	WriteLine(line string) error

	// Close releases the underlying connection.
	Close() error
}

// Dialer opens a Transport to address ("host:port").
type Dialer func(ctx context.Context, address string) (Transport, error)

// tcpTransport frames a net.Conn into RIO lines.
type tcpTransport struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

// TCPDialer returns the default Dialer, applying writeTimeout to every write.
func TCPDialer(writeTimeout time.Duration) Dialer {
	return func(ctx context.Context, address string) (Transport, error) {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("dial tcp %s: %w", address, err)
		}
		return NewConnTransport(conn, writeTimeout), nil
	}
}

// NewConnTransport wraps an established connection.
func NewConnTransport(conn net.Conn, writeTimeout time.Duration) Transport {
	return &tcpTransport{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		writeTimeout: writeTimeout,
	}
}

func (t *tcpTransport) ReadLine() (string, error) {
	line, err := t.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *tcpTransport) WriteLine(line string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := t.writer.WriteString(line + lineTerminator); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}
