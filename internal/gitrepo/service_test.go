package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func initialSnapshot() Snapshot {
	return Snapshot{
		Title:       "Sparse Graph Minors",
		Abstract:    "We study minors.",
		Authors:     []string{"Ada Lovelace", "Alan Turing"},
		Keywords:    []string{"graphs"},
		FileName:    "minors.pdf",
		ContentType: "application/pdf",
	}
}

func TestPaperRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsurePaperRepo("pap_1", initialSnapshot(), "Ada Lovelace"); err != nil {
		t.Fatalf("EnsurePaperRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "pap_1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
	// Second call is a no-op.
	if err := svc.EnsurePaperRepo("pap_1", Snapshot{Title: "other"}, "Ada Lovelace"); err != nil {
		t.Fatalf("EnsurePaperRepo() again error = %v", err)
	}

	updated := initialSnapshot()
	updated.Abstract = "We study sparse minors."
	updated.Keywords = []string{"graphs", "minors"}
	commit, changed, err := svc.CommitSnapshot("pap_1", updated, "Ada Lovelace", "Update abstract")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if !changed || len(commit.Hash) != 7 {
		t.Fatalf("unexpected commit: %+v changed=%v", commit, changed)
	}

	history, err := svc.History("pap_1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history))
	}
	if history[0].Commit.Message != "Update abstract" || history[1].Commit.Message != "Upload paper" {
		t.Fatalf("unexpected order: %+v", history)
	}
	var fields []string
	for _, change := range history[0].Changes {
		fields = append(fields, change.Field)
	}
	if strings.Join(fields, ",") != "abstract,keywords" {
		t.Fatalf("changes = %v", fields)
	}
	if len(history[1].Changes) != 6 {
		t.Fatalf("first revision should list every populated field, got %+v", history[1].Changes)
	}

	snap, info, err := svc.SnapshotAt("pap_1", history[1].Commit.Hash)
	if err != nil {
		t.Fatalf("SnapshotAt() error = %v", err)
	}
	if snap.Abstract != "We study minors." || info.Author != "Ada Lovelace" {
		t.Fatalf("unexpected snapshot: %+v %+v", snap, info)
	}
}

func TestCommitSnapshotSkipsUnchanged(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsurePaperRepo("pap_1", initialSnapshot(), "Ada"); err != nil {
		t.Fatal(err)
	}
	_, changed, err := svc.CommitSnapshot("pap_1", initialSnapshot(), "Ada", "noop")
	if err != nil || changed {
		t.Fatalf("CommitSnapshot(same) changed=%v err=%v", changed, err)
	}
	history, err := svc.History("pap_1", 0)
	if err != nil || len(history) != 1 {
		t.Fatalf("History() = %d entries, err %v", len(history), err)
	}
}

func TestMissingRepoAndHash(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("pap_missing", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("History(missing) error = %v", err)
	}
	if err := svc.EnsurePaperRepo("pap_1", initialSnapshot(), "Ada"); err != nil {
		t.Fatal(err)
	}
	for _, hash := range []string{"zzzz", "00000000", "ab"} {
		if _, _, err := svc.SnapshotAt("pap_1", hash); !errors.Is(err, ErrNotFound) {
			t.Fatalf("SnapshotAt(%q) error = %v", hash, err)
		}
	}
	if err := svc.Remove("pap_1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := svc.History("pap_1", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("History(after remove) error = %v", err)
	}
}

func TestConcurrentCommitSnapshot(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsurePaperRepo("pap_1", initialSnapshot(), "Ada"); err != nil {
		t.Fatal(err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := initialSnapshot()
			next.Title = fmt.Sprintf("title-%02d", idx)
			if _, _, err := svc.CommitSnapshot("pap_1", next, "Ada", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("CommitSnapshot() concurrent error = %v", err)
	}

	history, err := svc.History("pap_1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d revisions, got %d", writers+1, len(history))
	}
	limited, err := svc.History("pap_1", 3)
	if err != nil || len(limited) != 3 {
		t.Fatalf("History(limit 3) = %d, %v", len(limited), err)
	}
}

func TestDiffFieldsAndHasChanges(t *testing.T) {
	a := initialSnapshot()
	b := initialSnapshot()
	if HasChanges(a, b) || len(DiffFields(a, b)) != 0 {
		t.Fatal("identical snapshots should not differ")
	}
	b.Authors = []string{"Ada Lovelace"}
	diff := DiffFields(a, b)
	if len(diff) != 1 || diff[0].Field != "authors" || diff[0].Before != "Ada Lovelace, Alan Turing" || diff[0].After != "Ada Lovelace" {
		t.Fatalf("unexpected diff: %+v", diff)
	}
	if !HasChanges(a, b) {
		t.Fatal("HasChanges should see author change")
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := sanitizeEmail("Ada Lovelace"); got != "ada.lovelace" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
	if got := sanitizeEmail("!!!"); got != "user" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
}
