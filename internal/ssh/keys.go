package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	xssh "golang.org/x/crypto/ssh"
)

// KeyFileMode is applied to a private key once it has been written.
const KeyFileMode os.FileMode = 0o400

// KeyPath returns the private key location for a node: <dir>/<name>.pem.
func KeyPath(dir, name string) string {
	return filepath.Join(dir, name+".pem")
}

// WriteKeyFile persists private key material to KeyPath(dir, name) and then
// restricts the file to owner read-only. It refuses to overwrite an existing key.
func WriteKeyFile(dir, name string, material []byte) (string, error) {
	if name == "" {
		return "", errors.New("key name required")
	}
	if len(material) == 0 {
		return "", errors.New("empty key material")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir keys dir: %w", err)
	}
	path := KeyPath(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.Write(material); err != nil {
		_ = f.Close()
		return path, fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("close key file: %w", err)
	}
	if err := os.Chmod(path, KeyFileMode); err != nil {
		return path, fmt.Errorf("chmod key file: %w", err)
	}
	return path, nil
}

// GenerateEd25519 creates an ed25519 keypair. The private key is returned as an
// unencrypted OpenSSH PEM block, the public key in authorized_keys format.
func GenerateEd25519(comment string) (privatePEM []byte, publicAuthorized string, err error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	signer, err := xssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, "", fmt.Errorf("signer: %w", err)
	}
	block, err := xssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, "", fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(block), string(xssh.MarshalAuthorizedKey(signer.PublicKey())), nil
}

// LoadPrivateKeySigner reads an OpenSSH/PEM private key file and returns an ssh.Signer.
func LoadPrivateKeySigner(privateKeyPath string) (xssh.Signer, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := xssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
