package ssh

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

// testServer is a minimal SSH server answering "exec" requests by echoing the
// command. Only clientKey may authenticate.
type testServer struct {
	addr    string
	hostKey xssh.Signer
}

func newTestServer(t *testing.T, clientKey xssh.PublicKey) *testServer {
	t.Helper()
	hostPEM, _, err := GenerateEd25519("host")
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	hostKey, err := xssh.ParsePrivateKey(hostPEM)
	if err != nil {
		t.Fatalf("parse host key: %v", err)
	}
	cfg := &xssh.ServerConfig{
		PublicKeyCallback: func(_ xssh.ConnMetadata, k xssh.PublicKey) (*xssh.Permissions, error) {
			if clientKey != nil && bytes.Equal(k.Marshal(), clientKey.Marshal()) {
				return &xssh.Permissions{}, nil
			}
			return nil, errDenied
		},
	}
	cfg.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg)
		}
	}()
	return &testServer{addr: ln.Addr().String(), hostKey: hostKey}
}

var errDenied = errors.New("denied")

func serveConn(conn net.Conn, cfg *xssh.ServerConfig) {
	defer conn.Close()
	_, chans, reqs, err := xssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go xssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(xssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				cmdLen := binary.BigEndian.Uint32(req.Payload[:4])
				cmd := string(req.Payload[4 : 4+cmdLen])
				_ = req.Reply(true, nil)
				_, _ = ch.Write([]byte("ran: " + cmd))
				status := make([]byte, 4)
				_, _ = ch.SendRequest("exit-status", false, status)
				return
			}
		}()
	}
}

func hostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	port, _ := strconv.Atoi(p)
	return h, port
}

func TestProberCapturesHostKey(t *testing.T) {
	srv := newTestServer(t, nil)
	host, port := hostPort(t, srv.addr)

	key, err := Prober{Port: port, Timeout: 2 * time.Second}.HostKey(context.Background(), host)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !bytes.Equal(key.Marshal(), srv.hostKey.PublicKey().Marshal()) {
		t.Fatalf("probe returned a different host key")
	}
}

func TestProberClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port := hostPort(t, ln.Addr().String())
	_ = ln.Close()

	if _, err := (Prober{Port: port, Timeout: time.Second}).HostKey(context.Background(), host); err == nil {
		t.Fatalf("expected error for closed port")
	}
}

func TestProberSilentPeer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Close()
		}
	}()
	host, port := hostPort(t, ln.Addr().String())

	if _, err := (Prober{Port: port, Timeout: time.Second}).HostKey(context.Background(), host); err == nil {
		t.Fatalf("expected error when peer hangs up before key exchange")
	}
}

func TestClientRunCommand(t *testing.T) {
	clientPEM, _, err := GenerateEd25519("client")
	if err != nil {
		t.Fatalf("client key: %v", err)
	}
	signer, err := xssh.ParsePrivateKey(clientPEM)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	srv := newTestServer(t, signer.PublicKey())

	c := &Client{
		Addr:       srv.addr,
		User:       "ec2-user",
		Signer:     signer,
		KnownHosts: xssh.FixedHostKey(srv.hostKey.PublicKey()),
		Timeout:    2 * time.Second,
	}
	out, _, err := c.RunCommand(context.Background(), "uname -a")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "ran: uname -a" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestClientRequiresHostKeyCallback(t *testing.T) {
	clientPEM, _, _ := GenerateEd25519("client")
	signer, _ := xssh.ParsePrivateKey(clientPEM)
	c := &Client{Addr: "127.0.0.1:1", Signer: signer}
	if _, _, err := c.RunCommand(context.Background(), "true"); err == nil {
		t.Fatalf("expected error without host key callback")
	}
}

func TestJoinHostPort(t *testing.T) {
	if got := JoinHostPort("54.66.1.2", 0); got != "54.66.1.2:22" {
		t.Fatalf("got %s", got)
	}
	if got := JoinHostPort("2001:db8::1", 2222); got != "[2001:db8::1]:2222" {
		t.Fatalf("got %s", got)
	}
}
