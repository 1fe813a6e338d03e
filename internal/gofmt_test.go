package internal

import (
	"bytes"
	"go/format"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// projectRoot returns the module root whether tests run from internal/ or
// from the root itself.
func projectRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if filepath.Base(wd) == "internal" {
		return filepath.Dir(wd)
	}
	return wd
}

// walkGoFiles calls fn for every .go file under internal/ and cmd/,
// skipping hidden directories.
func walkGoFiles(t *testing.T, root string, fn func(path string, content []byte)) {
	t.Helper()
	for _, dir := range []string{"internal", "cmd"} {
		err := filepath.WalkDir(filepath.Join(root, dir), func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") || d.Name() == "vendor" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") {
				return nil
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			fn(path, content)
			return nil
		})
		if err != nil {
			t.Fatalf("Failed to walk directory %s: %v", dir, err)
		}
	}
}

// TestGofmtCompliance verifies that all Go source files are gofmt clean.
// If this test fails, run: gofmt -w ./internal/ ./cmd/
func TestGofmtCompliance(t *testing.T) {
	root := projectRoot(t)
	var unformatted []string
	walkGoFiles(t, root, func(path string, content []byte) {
		formatted, err := format.Source(content)
		if err != nil {
			rel, _ := filepath.Rel(root, path)
			t.Errorf("%s does not parse: %v", rel, err)
			return
		}
		if !bytes.Equal(content, formatted) {
			rel, _ := filepath.Rel(root, path)
			unformatted = append(unformatted, rel)
		}
	})

	if len(unformatted) > 0 {
		t.Errorf("The following files are not properly formatted:\n  - %s\nRun 'gofmt -w ./internal/ ./cmd/' to fix formatting issues.",
			strings.Join(unformatted, "\n  - "))
	}
}

// TestPackagesHaveTests verifies that every internal package ships tests.
func TestPackagesHaveTests(t *testing.T) {
	root := projectRoot(t)
	sources := make(map[string]bool)
	tested := make(map[string]bool)
	walkGoFiles(t, root, func(path string, _ []byte) {
		dir := filepath.Dir(path)
		if strings.HasSuffix(path, "_test.go") {
			tested[dir] = true
		} else {
			sources[dir] = true
		}
	})

	for dir := range sources {
		rel, _ := filepath.Rel(root, dir)
		if strings.HasPrefix(rel, "cmd") {
			continue
		}
		if !tested[dir] {
			t.Errorf("package %s has no tests", rel)
		}
	}
}
