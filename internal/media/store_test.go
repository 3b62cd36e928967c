package media

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestWriteScreenshot(t *testing.T) {
	s := newTestStore(t)

	path, err := s.WriteScreenshot("course-42", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("WriteScreenshot: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Error("content mismatch")
	}
	if filepath.Base(filepath.Dir(path)) != "course-42" {
		t.Errorf("path %q not grouped by target ID", path)
	}
	if !strings.HasSuffix(path, ".png") {
		t.Errorf("path %q missing png extension", path)
	}
}

func TestSanitizeID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"", "unknown"},
		{"a/b", "a_b"},
		{"..", "_"},
		{"http://x", "http___x"},
	}
	for _, tt := range tests {
		if got := sanitizeID(tt.in); got != tt.want {
			t.Errorf("sanitizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScreenshotPathsAreUnique(t *testing.T) {
	s := newTestStore(t)
	a, err := s.ScreenshotPath("c1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Dir(a)); err != nil {
		t.Errorf("target directory not created: %v", err)
	}
}
