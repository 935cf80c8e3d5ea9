// Package gitrepo keeps the metadata revision history of each paper in its
// own git repository. Every revision is one commit of snapshot.json on the
// main branch.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
)

const (
	snapshotFile = "snapshot.json"
	mainBranch   = "main"
)

var ErrNotFound = errors.New("revision not found")

// Snapshot is the versioned part of a paper.
type Snapshot struct {
	Title       string   `json:"title"`
	Abstract    string   `json:"abstract"`
	Authors     []string `json:"authors"`
	Keywords    []string `json:"keywords"`
	FileName    string   `json:"fileName"`
	ContentType string   `json:"contentType"`
}

type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Revision is one history entry with the fields it changed relative to its
// parent. The first revision lists every non-empty field.
type Revision struct {
	Commit  store.CommitInfo
	Changes []FieldChange
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsurePaperRepo creates the repository with the upload as its first
// revision. It is a no-op when the repository already exists.
func (s *Service) EnsurePaperRepo(paperID string, initial Snapshot, author string) error {
	lock := s.paperLock(paperID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(paperID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	if _, err := writeAndCommit(repo, initial, author, "Upload paper"); err != nil {
		return err
	}
	return nil
}

// CommitSnapshot records a new revision. changed is false, and nothing is
// committed, when the snapshot equals the current head.
func (s *Service) CommitSnapshot(paperID string, snap Snapshot, author, message string) (info store.CommitInfo, changed bool, err error) {
	lock := s.paperLock(paperID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(paperID)
	if err != nil {
		return store.CommitInfo{}, false, err
	}

	head, err := headCommit(repo)
	if err != nil {
		return store.CommitInfo{}, false, err
	}
	current, err := readSnapshot(head)
	if err != nil {
		return store.CommitInfo{}, false, err
	}
	if !HasChanges(current, snap) {
		return toCommitInfo(head), false, nil
	}

	hash, err := writeAndCommit(repo, snap, author, message)
	if err != nil {
		return store.CommitInfo{}, false, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), true, nil
}

// History lists revisions newest first. limit <= 0 means all of them.
func (s *Service) History(paperID string, limit int) ([]Revision, error) {
	lock := s.paperLock(paperID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(paperID)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		snap, err := readSnapshot(commitObj)
		if err != nil {
			return err
		}
		before := Snapshot{}
		if commitObj.NumParents() > 0 {
			parent, err := commitObj.Parent(0)
			if err != nil {
				return fmt.Errorf("load parent of %s: %w", commitObj.Hash, err)
			}
			if before, err = readSnapshot(parent); err != nil {
				return err
			}
		}
		items = append(items, Revision{Commit: toCommitInfo(commitObj), Changes: DiffFields(before, snap)})
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt returns the paper metadata as of a full or abbreviated hash.
func (s *Service) SnapshotAt(paperID, hash string) (Snapshot, store.CommitInfo, error) {
	lock := s.paperLock(paperID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(paperID)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, ErrNotFound
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	return snap, toCommitInfo(commitObj), nil
}

// Remove deletes the repository of a deleted paper.
func (s *Service) Remove(paperID string) error {
	lock := s.paperLock(paperID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(paperID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	s.lockMu.Lock()
	delete(s.locks, paperID)
	s.lockMu.Unlock()
	return nil
}

func (s *Service) open(paperID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(paperID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(paperID string) string {
	return filepath.Join(s.baseDir, filepath.Base(paperID))
}

func (s *Service) paperLock(paperID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[paperID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[paperID] = lock
	return lock
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func writeAndCommit(repo *git.Repository, snap Snapshot, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(normalize(snap), "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@users.researchhub.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(contents), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return normalize(snap), nil
}

func normalize(s Snapshot) Snapshot {
	if s.Authors == nil {
		s.Authors = []string{}
	}
	if s.Keywords == nil {
		s.Keywords = []string{}
	}
	return s
}

// DiffFields lists the fields that differ between two snapshots, in a fixed
// field order.
func DiffFields(from, to Snapshot) []FieldChange {
	pairs := []FieldChange{
		{Field: "title", Before: from.Title, After: to.Title},
		{Field: "abstract", Before: from.Abstract, After: to.Abstract},
		{Field: "authors", Before: strings.Join(from.Authors, ", "), After: strings.Join(to.Authors, ", ")},
		{Field: "keywords", Before: strings.Join(from.Keywords, ", "), After: strings.Join(to.Keywords, ", ")},
		{Field: "fileName", Before: from.FileName, After: to.FileName},
		{Field: "contentType", Before: from.ContentType, After: to.ContentType},
	}
	result := make([]FieldChange, 0)
	for _, item := range pairs {
		if item.Before != item.After {
			result = append(result, item)
		}
	}
	return result
}

func HasChanges(from, to Snapshot) bool {
	return from.Title != to.Title ||
		from.Abstract != to.Abstract ||
		from.FileName != to.FileName ||
		from.ContentType != to.ContentType ||
		!slices.Equal(from.Authors, to.Authors) ||
		!slices.Equal(from.Keywords, to.Keywords)
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range strings.ToLower(input) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) < 4 || strings.Trim(hash, "0123456789abcdef") != "" {
		return plumbing.ZeroHash, ErrNotFound
	}
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, ErrNotFound
	}
	return *resolved, nil
}
