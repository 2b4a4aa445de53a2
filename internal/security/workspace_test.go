package security

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"conductor-ai/internal/domain"
)

func TestWorkspaceValidPath(t *testing.T) {
	dir := t.TempDir()
	ws, err := NewWorkspace(dir)
	if err != nil {
		t.Fatal(err)
	}

	testFile := filepath.Join(ws.Root(), "test.txt")
	if err := os.WriteFile(testFile, []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}

	resolved, err := ws.Resolve(testFile)
	if err != nil {
		t.Errorf("valid path should pass: %v", err)
	}
	if resolved != testFile {
		t.Errorf("resolved = %q, want %q", resolved, testFile)
	}
}

func TestWorkspaceRelativePath(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := ws.Resolve("scratch/main.py")
	if err != nil {
		t.Fatalf("relative path should resolve under root: %v", err)
	}
	want := filepath.Join(ws.Root(), "scratch", "main.py")
	if resolved != want {
		t.Errorf("resolved = %q, want %q", resolved, want)
	}
}

func TestWorkspacePathTraversal(t *testing.T) {
	dir := t.TempDir()
	ws, err := NewWorkspace(dir)
	if err != nil {
		t.Fatal(err)
	}

	tests := []string{
		filepath.Join(dir, "..", "etc", "passwd"),
		"/etc/passwd",
		"../outside.txt",
	}

	for _, path := range tests {
		_, err := ws.Resolve(path)
		if !errors.Is(err, domain.ErrPathOutsideWorkspace) {
			t.Errorf("path %q: expected ErrPathOutsideWorkspace, got %v", path, err)
		}
	}
}

func TestWorkspaceNewFilePath(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// File does not exist yet; parent validation applies.
	resolved, err := ws.Resolve(filepath.Join(ws.Root(), "new.txt"))
	if err != nil {
		t.Errorf("new file under root should pass: %v", err)
	}
	if filepath.Dir(resolved) != ws.Root() {
		t.Errorf("resolved parent = %q, want root", filepath.Dir(resolved))
	}
}

func TestWorkspaceSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink semantics differ on windows")
	}

	outside := t.TempDir()
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	link := filepath.Join(ws.Root(), "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}

	_, err = ws.Resolve(filepath.Join(link, "x.txt"))
	if !errors.Is(err, domain.ErrPathOutsideWorkspace) {
		t.Errorf("symlink escape: expected ErrPathOutsideWorkspace, got %v", err)
	}
}

func TestWorkspaceCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "deep", "workspace")
	ws, err := NewWorkspace(root)
	if err != nil {
		t.Fatalf("NewWorkspace should create missing root: %v", err)
	}
	info, err := os.Stat(ws.Root())
	if err != nil || !info.IsDir() {
		t.Errorf("root not created: %v", err)
	}
}
