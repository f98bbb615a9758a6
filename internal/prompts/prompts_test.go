package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetEmbedded(t *testing.T) {
	for _, name := range []string{"prompt.md", "revision-prompt.md"} {
		content, err := Get(name)
		if err != nil {
			t.Fatalf("Get(%q): %v", name, err)
		}
		for _, token := range []string{"{{storyId}}", "{{prdContext}}", "STORY_COMPLETE"} {
			if !strings.Contains(content, token) {
				t.Errorf("%s missing %s", name, token)
			}
		}
	}
}

func TestGetUnknown(t *testing.T) {
	if _, err := Get("nonexistent.md"); err == nil {
		t.Fatal("expected error for unknown prompt")
	}
}

func TestOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.md")
	if err := os.WriteFile(path, []byte("custom {{storyId}}"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	SetOverride("prompt.md", path)
	defer func() {
		overridesMu.Lock()
		delete(overrides, "prompt.md")
		overridesMu.Unlock()
	}()

	content, err := Get("prompt.md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if content != "custom {{storyId}}" {
		t.Errorf("content = %q", content)
	}
}

func TestOverrideMissingFile(t *testing.T) {
	SetOverride("revision-prompt.md", "/nonexistent/file.md")
	defer func() {
		overridesMu.Lock()
		delete(overrides, "revision-prompt.md")
		overridesMu.Unlock()
	}()

	if _, err := Get("revision-prompt.md"); err == nil {
		t.Fatal("expected error for missing override file")
	}
}
