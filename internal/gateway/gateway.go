// Package gateway issues and verifies signed, time-limited links to
// generated audio artifacts. A link carries an expiry and an HMAC signature
// over the filename and expiry; nothing under the artifact directory is
// reachable without a valid, unexpired signature.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrLinkMissing          = errors.New("missing signature or expiry")
	ErrLinkExpired          = errors.New("link expired")
	ErrLinkInvalidSignature = errors.New("invalid signature")
	ErrLinkNotFound         = errors.New("artifact not found")
)

// Signer signs and verifies artifact download links. The secret is shared by
// every process that issues or serves links; signatures are stateless, so no
// store lookup is needed to verify one.
type Signer struct {
	secret      []byte
	artifactDir string
	ttl         time.Duration
}

func NewSigner(secret string, artifactDir string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), artifactDir: artifactDir, ttl: ttl}
}

func (s *Signer) signature(filename string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", filename, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the expiry timestamp and signature for a bare artifact
// filename, valid for the signer's TTL from now.
func (s *Signer) Sign(filename string) (expires int64, signature string) {
	expires = time.Now().Add(s.ttl).Unix()
	return expires, s.signature(filename, expires)
}

// SignPath appends a fresh expiry and signature to a /static/ path. Paths
// that do not point under /static/ are returned unchanged.
func (s *Signer) SignPath(path string) string {
	filename := strings.TrimPrefix(path, "/static/")
	if filename == path || filename == "" {
		return path
	}
	expires, sig := s.Sign(filename)
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", sig)
	return path + "?" + q.Encode()
}

// Verify checks a presented expiry and signature for a filename. Expiry is
// checked before the signature so an expired link reports as expired even
// when its signature no longer matches. Signature comparison is constant
// time.
func (s *Signer) Verify(filename, expiresParam, signatureParam string) error {
	if expiresParam == "" || signatureParam == "" {
		return ErrLinkMissing
	}

	expires, err := strconv.ParseInt(expiresParam, 10, 64)
	if err != nil {
		return ErrLinkMissing
	}
	if time.Now().Unix() > expires {
		return ErrLinkExpired
	}

	want := s.signature(filename, expires)
	if !hmac.Equal([]byte(want), []byte(signatureParam)) {
		return ErrLinkInvalidSignature
	}
	return nil
}

// Resolve maps a verified filename to its absolute path under the artifact
// directory. Names that resolve outside the directory or point at nothing
// report not found; the caller learns nothing about what exists elsewhere.
func (s *Signer) Resolve(filename string) (string, error) {
	absDir, err := filepath.Abs(s.artifactDir)
	if err != nil {
		return "", ErrLinkNotFound
	}

	path := filepath.Join(absDir, filename)
	if !strings.HasPrefix(path, absDir+string(filepath.Separator)) {
		return "", ErrLinkNotFound
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrLinkNotFound
	}
	return path, nil
}
