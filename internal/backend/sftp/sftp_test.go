package sftp

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func testHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func TestHostKeyCallbackEmptyListAcceptsAnything(t *testing.T) {
	cb := Config{}.hostKeyCallback()
	if err := cb("host", &net.TCPAddr{}, testHostKey(t)); err != nil {
		t.Errorf("empty allow-list rejected a host key: %v", err)
	}
}

func TestHostKeyCallbackMatchesFingerprint(t *testing.T) {
	key := testHostKey(t)

	tests := []struct {
		name string
		hash string
	}{
		{"sha256 as reported", ssh.FingerprintSHA256(key)},
		{"sha256 without prefix", strings.TrimPrefix(ssh.FingerprintSHA256(key), "SHA256:")},
		{"md5 with colons", ssh.FingerprintLegacyMD5(key)},
		{"md5 uppercase no colons", strings.ToUpper(strings.ReplaceAll(ssh.FingerprintLegacyMD5(key), ":", ""))},
	}
	for _, tt := range tests {
		cb := Config{HostKeyHashes: []string{tt.hash}}.hostKeyCallback()
		if err := cb("host", &net.TCPAddr{}, key); err != nil {
			t.Errorf("%s: host key rejected: %v", tt.name, err)
		}
	}
}

func TestHostKeyCallbackRejectsUnknownKey(t *testing.T) {
	allowed := testHostKey(t)
	presented := testHostKey(t)

	cb := Config{HostKeyHashes: []string{ssh.FingerprintSHA256(allowed)}}.hostKeyCallback()
	if err := cb("host", &net.TCPAddr{}, presented); err == nil {
		t.Error("host key with a foreign fingerprint was accepted")
	}
}

func TestNewRequiresHost(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New accepted an empty host")
	}
}
