package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

type NetDialer struct{ Timeout time.Duration }

func (d NetDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}
	return nd.DialContext(ctx, network, addr)
}

// ErrNoHostKey is returned when a connection was made but the peer never
// completed key exchange.
var ErrNoHostKey = errors.New("ssh: no host key presented")

// Prober checks whether a node's SSH daemon accepts connections. A node is
// considered reachable once it completes key exchange; authentication is not
// attempted.
type Prober struct {
	Port    int
	Timeout time.Duration
	Dialer  Dialer
}

// HostKey performs one probe against host and returns the presented host key.
func (p Prober) HostKey(ctx context.Context, host string) (xssh.PublicKey, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := p.Dialer
	if dialer == nil {
		dialer = NetDialer{Timeout: timeout}
	}
	addr := JoinHostPort(host, p.Port)

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	var (
		mu  sync.Mutex
		key xssh.PublicKey
	)
	cfg := &xssh.ClientConfig{
		User: "probe",
		HostKeyCallback: func(_ string, _ net.Addr, k xssh.PublicKey) error {
			mu.Lock()
			key = k
			mu.Unlock()
			return errHandshakeDone
		},
		Timeout: timeout,
	}
	_, _, _, err = xssh.NewClientConn(conn, addr, cfg)
	mu.Lock()
	defer mu.Unlock()
	if key != nil {
		return key, nil
	}
	if err == nil {
		err = ErrNoHostKey
	}
	return nil, fmt.Errorf("handshake %s: %w", addr, err)
}

var errHandshakeDone = errors.New("host key captured")

// JoinHostPort formats host and port, defaulting to 22.
func JoinHostPort(host string, port int) string {
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

type Client struct {
	Addr       string
	User       string
	Signer     xssh.Signer
	KnownHosts xssh.HostKeyCallback
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
}

func (c *Client) makeConfig() (*xssh.ClientConfig, error) {
	if c.Signer == nil {
		return nil, errors.New("ssh: signer required")
	}
	if c.KnownHosts == nil {
		return nil, errors.New("ssh: host key callback required")
	}
	return &xssh.ClientConfig{
		User:            c.User,
		Auth:            []xssh.AuthMethod{xssh.PublicKeys(c.Signer)},
		HostKeyCallback: c.KnownHosts,
		Timeout:         c.Timeout,
	}, nil
}

// RunCommand executes a remote command with retries and linear backoff.
func (c *Client) RunCommand(ctx context.Context, command string) (string, string, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return "", "", err
	}
	retries := c.Retries
	if retries < 0 {
		retries = 0
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		stdout, stderr, err := runOnce(c.Addr, cfg, command)
		if err == nil {
			return stdout, stderr, nil
		}
		var exitErr *xssh.ExitError
		if errors.As(err, &exitErr) {
			// The command ran; retrying would repeat its side effects.
			return stdout, stderr, err
		}
		lastErr = err
		if attempt < retries {
			select {
			case <-ctx.Done():
				return "", "", ctx.Err()
			case <-time.After(backoff * time.Duration(attempt+1)):
			}
		}
	}
	return "", "", lastErr
}

func runOnce(addr string, cfg *xssh.ClientConfig, command string) (string, string, error) {
	cli, err := xssh.Dial("tcp", addr, cfg)
	if err != nil {
		return "", "", fmt.Errorf("dial: %w", err)
	}
	defer cli.Close()
	session, err := cli.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("new session: %w", err)
	}
	defer session.Close()
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if err := session.Run(command); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("run command: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// Dial establishes an SSH connection using the provided client configuration.
// The caller is responsible for closing the returned client.
func Dial(ctx context.Context, c *Client) (*xssh.Client, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return nil, err
	}
	type res struct {
		cli *xssh.Client
		err error
	}
	ch := make(chan res, 1)
	go func() {
		cli, err := xssh.Dial("tcp", c.Addr, cfg)
		ch <- res{cli: cli, err: err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.cli != nil {
				_ = r.cli.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.cli, r.err
	}
}
