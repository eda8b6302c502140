// Package storage persists plan documents on local disk and issues signed,
// expiring download URLs for them.
//
// Documents live under root as {user_id}/{plan_id}.txt. Download URLs carry
// an expiry and an HMAC-SHA256 signature over the path and expiry, so the
// document endpoint can serve files without consulting the database.
package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultURLTTL is how long a signed document URL stays valid.
const DefaultURLTTL = time.Hour

var (
	// ErrInvalidID reports a user or plan id unsafe to use as a path element.
	ErrInvalidID = errors.New("invalid document id")
	// ErrBadSignature reports a signed URL that fails verification.
	ErrBadSignature = errors.New("bad document signature")
	// ErrExpired reports a signed URL past its expiry.
	ErrExpired = errors.New("document url expired")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// validID reports whether s is safe to use as a path element. Dot-only
// names ("." and "..") match the pattern but traverse directories, so they
// are rejected separately.
func validID(s string) bool {
	return idPattern.MatchString(s) && strings.Trim(s, ".") != ""
}

// Store is a disk-backed document store.
type Store struct {
	root   string
	secret []byte
}

// New creates a Store rooted at dir. The secret signs download URLs.
func New(dir, secret string) (*Store, error) {
	if secret == "" {
		return nil, errors.New("storage secret is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create document root: %w", err)
	}
	return &Store{root: dir, secret: []byte(secret)}, nil
}

// Save writes a plan document and returns its store-relative path.
func (s *Store) Save(userID, planID, content string) (string, error) {
	if !validID(userID) || !validID(planID) {
		return "", ErrInvalidID
	}
	dir := filepath.Join(s.root, userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create user directory: %w", err)
	}
	path := userID + "/" + planID + ".txt"
	if err := os.WriteFile(filepath.Join(s.root, filepath.FromSlash(path)), []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write plan document: %w", err)
	}
	return path, nil
}

// Read returns the content of a previously saved document.
func (s *Store) Read(path string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(path)))
	if err != nil {
		return "", fmt.Errorf("read plan document: %w", err)
	}
	return string(data), nil
}

// SignedQuery returns the query string ("exp=...&sig=...") that authorizes a
// download of path until now+ttl.
func (s *Store) SignedQuery(path string, ttl time.Duration) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	exp := strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("exp", exp)
	q.Set("sig", s.sign(path, exp))
	return q.Encode(), nil
}

// SignedURL builds a full download URL below baseURL.
func (s *Store) SignedURL(baseURL, path string, ttl time.Duration) (string, error) {
	query, err := s.SignedQuery(path, ttl)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/api/plan/documents/%s?%s", baseURL, path, query), nil
}

// Verify checks the expiry and signature of a download request.
func (s *Store) Verify(path, exp, sig string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(path, exp))) {
		return ErrBadSignature
	}
	expiry, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if time.Now().Unix() > expiry {
		return ErrExpired
	}
	return nil
}

func (s *Store) sign(path, exp string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(path))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(exp))
	return hex.EncodeToString(mac.Sum(nil))
}

func validatePath(path string) error {
	dir, file, ok := splitPath(path)
	if !ok || !validID(dir) || !validID(file) {
		return ErrInvalidID
	}
	return nil
}

func splitPath(path string) (dir, file string, ok bool) {
	i := -1
	for j, r := range path {
		if r == '/' {
			if i != -1 {
				return "", "", false
			}
			i = j
		}
	}
	if i <= 0 || i == len(path)-1 {
		return "", "", false
	}
	return path[:i], path[i+1:], true
}
