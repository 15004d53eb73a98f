package worker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveBinaryDevTree(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	binDir := filepath.Join(root, "binaries")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(binDir, BinaryName+"-"+targetSuffix()+exeSuffix())
	if err := os.WriteFile(want, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	t.Chdir(root)

	got, err := ResolveBinary()
	if err != nil {
		t.Fatalf("ResolveBinary: %v", err)
	}
	if got != want {
		t.Errorf("resolved %q, want %q", got, want)
	}
}

func TestResolveBinarySkipsNonExecutable(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	binDir := filepath.Join(root, "binaries")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		t.Fatal(err)
	}
	// Present but not executable: must not be picked.
	stale := filepath.Join(binDir, BinaryName+"-"+targetSuffix()+exeSuffix())
	if err := os.WriteFile(stale, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Chdir(root)

	if _, err := ResolveBinary(); !errors.Is(err, ErrSpawnFailure) {
		t.Fatalf("expected ErrSpawnFailure, got %v", err)
	}
}

func TestResolveBinaryNotFound(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := ResolveBinary()
	if !errors.Is(err, ErrSpawnFailure) {
		t.Fatalf("expected ErrSpawnFailure, got %v", err)
	}
}
