// Package storage implements the attachment bucket contract: a named bucket
// with public read, a 50MB per-file cap and an allow-list of office, image
// and PDF MIME types, created lazily on first use. Blobs live on local disk;
// the public base URL is whatever fronts that directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// BucketName is the fixed bucket for poll attachments.
	BucketName = "poll-attachments"

	// MaxFileSize is the per-file cap: 50MB.
	MaxFileSize = 50 * 1024 * 1024
)

// AllowedMimeTypes is the bucket's MIME allow-list.
var AllowedMimeTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
}

var (
	ErrFileTooLarge   = errors.New("file exceeds the 50MB attachment limit")
	ErrMimeNotAllowed = errors.New("file type is not allowed for poll attachments")
	ErrObjectNotFound = errors.New("attachment object not found")
)

// bucketConfig is written next to the objects so the contract survives
// restarts and can be inspected.
type bucketConfig struct {
	Name             string   `json:"name"`
	Public           bool     `json:"public"`
	FileSizeLimit    int64    `json:"file_size_limit"`
	AllowedMimeTypes []string `json:"allowed_mime_types"`
}

// Store is a disk-backed attachment store.
type Store struct {
	root      string
	publicURL string
}

// NewStore returns a store rooted at dir, serving objects publicly under
// publicURL.
func NewStore(dir, publicURL string) *Store {
	return &Store{root: dir, publicURL: strings.TrimRight(publicURL, "/")}
}

// EnsureBucket creates the attachment bucket if it does not exist yet,
// recording its public-read flag, size cap and MIME allow-list.
func (s *Store) EnsureBucket() error {
	bucketDir := filepath.Join(s.root, BucketName)
	configPath := filepath.Join(bucketDir, ".bucket.json")

	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(bucketDir, 0o755); err != nil {
		return fmt.Errorf("failed to create bucket directory: %w", err)
	}

	cfg := bucketConfig{
		Name:             BucketName,
		Public:           true,
		FileSizeLimit:    MaxFileSize,
		AllowedMimeTypes: AllowedMimeTypes,
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write bucket config: %w", err)
	}
	return nil
}

// MimeAllowed reports whether mimeType is on the bucket allow-list.
func MimeAllowed(mimeType string) bool {
	for _, allowed := range AllowedMimeTypes {
		if strings.EqualFold(allowed, mimeType) {
			return true
		}
	}
	return false
}

// Save validates and stores one attachment, returning its storage path. The
// object name is a uuid so uploads never collide; the original file name
// lives in the attachment row.
func (s *Store) Save(fileName, mimeType string, size int64, r io.Reader) (string, error) {
	if size > MaxFileSize {
		return "", ErrFileTooLarge
	}
	if !MimeAllowed(mimeType) {
		return "", ErrMimeNotAllowed
	}
	if err := s.EnsureBucket(); err != nil {
		return "", err
	}

	objectName := uuid.NewString() + strings.ToLower(filepath.Ext(fileName))
	storagePath := BucketName + "/" + objectName

	f, err := os.Create(filepath.Join(s.root, BucketName, objectName))
	if err != nil {
		return "", fmt.Errorf("failed to create object: %w", err)
	}
	defer f.Close()

	// The declared size is a client claim; the cap is enforced on the actual
	// bytes as well.
	written, err := io.Copy(f, io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if written > MaxFileSize {
		os.Remove(f.Name())
		return "", ErrFileTooLarge
	}
	return storagePath, nil
}

// Remove deletes the stored object for a path, used to compensate when the
// surrounding poll transaction rolls back.
func (s *Store) Remove(storagePath string) error {
	if strings.Contains(storagePath, "..") {
		return ErrObjectNotFound
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(storagePath)))
	if errors.Is(err, os.ErrNotExist) {
		return ErrObjectNotFound
	}
	return err
}

// PublicURL resolves a stored path to a downloadable URL. Rows predating the
// bucket migration hold bare object names or full URLs; both are handled.
func (s *Store) PublicURL(storagePath string) string {
	if strings.HasPrefix(storagePath, "http://") || strings.HasPrefix(storagePath, "https://") {
		return storagePath
	}
	if !strings.Contains(storagePath, "/") {
		// Legacy value: bare object name without a bucket prefix.
		storagePath = BucketName + "/" + storagePath
	}
	return s.publicURL + "/" + storagePath
}
