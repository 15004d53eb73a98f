package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// BinaryName is the base name of the worker binary.
const BinaryName = "reader-worker"

// targetSuffix is the platform suffix used for per-target builds,
// e.g. "darwin-arm64" or "linux-amd64".
func targetSuffix() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

func exeSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

// ResolveBinary locates the worker binary. Search order:
//
//  1. dev tree: binaries/reader-worker-<goos>-<goarch> beside the module
//     manifest, walking up from the working directory
//  2. reader-worker next to the supervising executable
//  3. reader-worker-<goos>-<goarch> next to the supervising executable
//  4. darwin app bundle: ../Resources/reader-worker relative to the executable
func ResolveBinary() (string, error) {
	var candidates []string

	if root := findDevRoot(); root != "" {
		candidates = append(candidates,
			filepath.Join(root, "binaries", BinaryName+"-"+targetSuffix()+exeSuffix()))
	}

	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, BinaryName+exeSuffix()),
			filepath.Join(dir, BinaryName+"-"+targetSuffix()+exeSuffix()),
		)
		if runtime.GOOS == "darwin" {
			candidates = append(candidates, filepath.Join(dir, "..", "Resources", BinaryName))
		}
	}

	for _, c := range candidates {
		if isExecutable(c) {
			return c, nil
		}
	}

	return "", fmt.Errorf("%w: no worker binary found (tried %s)",
		ErrSpawnFailure, strings.Join(candidates, ", "))
}

// findDevRoot walks up from the working directory looking for a go.mod,
// marking a development checkout. Returns "" outside a dev tree.
func findDevRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0111 != 0
}
