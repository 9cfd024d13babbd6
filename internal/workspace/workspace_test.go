package workspace

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return l
}

func TestWriteThenReadText(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	n, err := l.WriteText(ctx, "notes/todo.txt", "buy milk", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len("buy milk") {
		t.Fatalf("expected %d bytes written, got %d", len("buy milk"), n)
	}

	content, err := l.ReadText(ctx, "notes/todo.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "buy milk" {
		t.Fatalf("expected round-tripped content, got %q", content)
	}
}

func TestWriteTextAppendMode(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	if _, err := l.WriteText(ctx, "log.txt", "first\n", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.WriteText(ctx, "log.txt", "second\n", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content, err := l.ReadText(ctx, "log.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "first\nsecond\n" {
		t.Fatalf("expected appended content, got %q", content)
	}
}

func TestResolveRejectsPathEscape(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	if _, err := l.ReadText(ctx, "../../etc/passwd"); err != ErrPathEscape {
		t.Fatalf("expected ErrPathEscape, got %v", err)
	}
}

func TestFileInfoReturnsNilForMissingPath(t *testing.T) {
	l := newTestLocal(t)
	info, err := l.FileInfo(context.Background(), "does-not-exist.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info != nil {
		t.Fatalf("expected nil info for missing path, got %+v", info)
	}
}

func TestExistsAndIsFile(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	if _, err := l.WriteText(ctx, "a/b.txt", "x", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exists, err := l.Exists(ctx, "a/b.txt")
	if err != nil || !exists {
		t.Fatalf("expected file to exist, got exists=%v err=%v", exists, err)
	}
	isFile, err := l.IsFile(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isFile {
		t.Fatalf("expected directory to report is_file=false")
	}
}

func TestListFilesMatchesGlob(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	for _, name := range []string{"a.go", "b.go", "readme.md"} {
		if _, err := l.WriteText(ctx, name, "x", false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	files, err := l.ListFiles(ctx, ".", "*.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 .go files, got %+v", files)
	}
	for _, f := range files {
		if filepath.Ext(f) != ".go" {
			t.Fatalf("unexpected non-.go file in results: %s", f)
		}
	}
}

func TestMkdirCreatesNestedDirectories(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	if err := l.Mkdir(ctx, "deep/nested/dir"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := l.FileInfo(ctx, "deep/nested/dir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info == nil || !info.IsDir {
		t.Fatalf("expected directory to exist, got %+v", info)
	}
}
