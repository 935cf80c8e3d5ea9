// Package files stores uploaded paper files. Uploads are written to a
// staging area first and promoted with Commit once the paper record exists,
// so a failed insert never leaves an orphaned blob behind.
package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/blessing-molokwu/chatademy-sub000/internal/util"
)

const DefaultMaxBytes int64 = 10 << 20

var (
	ErrTooLarge        = errors.New("file exceeds the upload size limit")
	ErrUnsupportedType = errors.New("only PDF, DOC, DOCX and TXT files are allowed")
	ErrEmpty           = errors.New("file is empty")
	ErrNotFound        = errors.New("file not found")
)

var allowedTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
}

// Backend is a flat key/value blob store.
type Backend interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Move(ctx context.Context, from, to string) error
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
}

// Staged is an upload that passed validation and sits in the staging area.
type Staged struct {
	Key         string
	StageKey    string
	Name        string
	ContentType string
	Size        int64
}

type Store struct {
	backend  Backend
	maxBytes int64
}

func NewStore(backend Backend, maxBytes int64) *Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{backend: backend, maxBytes: maxBytes}
}

func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// ContentTypeFor returns the stored content type for a file name, or
// ErrUnsupportedType.
func ContentTypeFor(name string) (string, error) {
	ext := strings.ToLower(path.Ext(name))
	contentType, ok := allowedTypes[ext]
	if !ok {
		return "", ErrUnsupportedType
	}
	return contentType, nil
}

// Stage validates body and writes it under staging/. The final key is
// prefix/<random><ext>.
func (s *Store) Stage(ctx context.Context, prefix, name string, body io.Reader) (Staged, error) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	contentType, err := ContentTypeFor(name)
	if err != nil {
		return Staged{}, err
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return Staged{}, fmt.Errorf("read upload: %w", err)
	}
	if n == 0 {
		return Staged{}, ErrEmpty
	}
	if n > s.maxBytes {
		return Staged{}, ErrTooLarge
	}
	if contentType == "application/pdf" && http.DetectContentType(buf.Bytes()) != "application/pdf" {
		return Staged{}, ErrUnsupportedType
	}

	ext := strings.ToLower(path.Ext(name))
	token := util.NewToken()[:32]
	staged := Staged{
		Key:         path.Join(prefix, token+ext),
		StageKey:    path.Join("staging", token+ext),
		Name:        name,
		ContentType: contentType,
		Size:        n,
	}
	if err := s.backend.Put(ctx, staged.StageKey, &buf, n, contentType); err != nil {
		return Staged{}, fmt.Errorf("stage upload: %w", err)
	}
	return staged, nil
}

// Commit promotes a staged upload to its final key.
func (s *Store) Commit(ctx context.Context, staged Staged) error {
	if err := s.backend.Move(ctx, staged.StageKey, staged.Key); err != nil {
		return fmt.Errorf("commit upload: %w", err)
	}
	return nil
}

// Rollback discards a staged upload.
func (s *Store) Rollback(ctx context.Context, staged Staged) error {
	if err := s.backend.Delete(ctx, staged.StageKey); err != nil {
		return fmt.Errorf("rollback upload: %w", err)
	}
	return nil
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return s.backend.Open(ctx, key)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}
