package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyProvider implements Provider against a Valkey/Redis-compatible server
// speaking RESP2. Each operation uses a short-lived connection.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the Valkey server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
	// KeyPrefix namespaces every key written by this provider.
	KeyPrefix string
}

// NewValkeyProvider creates a Provider and pings the target so bad credentials or
// connectivity fail at startup.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	normaliseConfig(&cfg)
	provider := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	reply, err := provider.do(ctx, "PING")
	if err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	if reply.kind != '+' || reply.text() != "PONG" {
		return nil, fmt.Errorf("valkey ping: unexpected reply %q", reply.data)
	}
	return provider, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", p.key(key))
	if err != nil {
		return nil, err
	}
	switch {
	case reply.null:
		return nil, ErrCacheMiss
	case reply.kind == '$':
		return reply.data, nil
	default:
		return nil, fmt.Errorf("valkey GET: unexpected reply type %q", reply.kind)
	}
}

// Set stores bytes with the provided TTL (millisecond precision).
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{"SET", p.key(key), string(value)}
	if ms := ttl.Milliseconds(); ms > 0 {
		args = append(args, "PX", strconv.FormatInt(ms, 10))
	}
	reply, err := p.do(ctx, args...)
	if err != nil {
		return err
	}
	if reply.kind != '+' || reply.text() != "OK" {
		return fmt.Errorf("valkey SET: unexpected reply %q", reply.data)
	}
	return nil
}

// Close is a no-op; connections are not pooled.
func (p *ValkeyProvider) Close() error { return nil }

func (p *ValkeyProvider) key(k string) string {
	return p.cfg.KeyPrefix + k
}

// do runs one command on a fresh authenticated connection, retrying transient network errors.
func (p *ValkeyProvider) do(ctx context.Context, args ...string) (respReply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}
		reply, err := p.once(ctx, args)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		if attempt < p.cfg.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return respReply{}, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}
	}
	return respReply{}, lastErr
}

func (p *ValkeyProvider) once(ctx context.Context, args []string) (respReply, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return respReply{}, err
	}
	defer conn.close()

	if err := conn.handshake(p.cfg); err != nil {
		return respReply{}, err
	}
	return conn.roundTrip(args...)
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostForTLS(p.cfg.Addr)}}
		conn, err = td.DialContext(ctx, "tcp", p.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

type respReply struct {
	kind byte
	data []byte
	null bool
}

func (r respReply) text() string { return string(r.data) }

// respConn wraps a network connection with RESP2 helpers.
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *respConn) close() { _ = c.conn.Close() }

func (c *respConn) handshake(cfg ValkeyConfig) error {
	if cfg.Password != "" {
		args := []string{"AUTH", cfg.Password}
		if cfg.Username != "" {
			args = []string{"AUTH", cfg.Username, cfg.Password}
		}
		if err := c.expectOK(args...); err != nil {
			return fmt.Errorf("valkey auth: %w", err)
		}
	}
	if cfg.DB > 0 {
		if err := c.expectOK("SELECT", strconv.Itoa(cfg.DB)); err != nil {
			return fmt.Errorf("valkey select: %w", err)
		}
	}
	return nil
}

func (c *respConn) expectOK(args ...string) error {
	reply, err := c.roundTrip(args...)
	if err != nil {
		return err
	}
	if reply.kind != '+' || !strings.EqualFold(reply.text(), "OK") {
		return fmt.Errorf("unexpected reply %q", reply.data)
	}
	return nil
}

func (c *respConn) roundTrip(args ...string) (respReply, error) {
	if err := c.write(args); err != nil {
		return respReply{}, err
	}
	return c.read()
}

func (c *respConn) write(args []string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.writer, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(c.writer, "$%d\r\n%s\r\n", len(arg), arg)
	}
	return c.writer.Flush()
}

func (c *respConn) read() (respReply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := c.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	line, err := c.readLine()
	if err != nil {
		return respReply{}, err
	}

	switch prefix {
	case '+', ':':
		return respReply{kind: prefix, data: line}, nil
	case '-':
		return respReply{}, &serverError{msg: string(line)}
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, fmt.Errorf("invalid bulk length %q", line)
		}
		if size < 0 {
			return respReply{kind: prefix, null: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("invalid bulk string termination")
		}
		return respReply{kind: prefix, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// serverError is an error reply sent by the server; it is never retried.
type serverError struct{ msg string }

func (e *serverError) Error() string { return "valkey: " + e.msg }

func normaliseConfig(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 25 * time.Millisecond
}

func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
