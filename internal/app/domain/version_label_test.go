package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseVersionLabel(t *testing.T) {
	label, err := ParseVersionLabel("v1.3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if label.Major != 1 || label.Minor != 3 {
		t.Fatalf("expected v1.3, got %s", label)
	}
}

func TestParseVersionLabelRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "1.3", "v1", "v1.x", "vv1.2", "v-1.2"} {
		if _, err := ParseVersionLabel(value); !errors.Is(err, ErrInvalidVersionLabel) {
			t.Fatalf("expected invalid label for %q, got %v", value, err)
		}
	}
}

func TestNextMinorNeverBumpsMajor(t *testing.T) {
	label := VersionLabel{Major: 2, Minor: 9}
	next := label.NextMinor()
	if next.String() != "v2.10" {
		t.Fatalf("expected v2.10, got %s", next)
	}
}

func TestCodeFileStringifiesStructuredContent(t *testing.T) {
	var file CodeFile
	payload := []byte(`{"path":"config.json","content":{"key":"value"}}`)
	if err := json.Unmarshal(payload, &file); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if file.Content != `{"key":"value"}` {
		t.Fatalf("expected serialized content, got %q", file.Content)
	}
}

func TestFlattenRoundTrip(t *testing.T) {
	snapshot := CodeSnapshot{
		Frontend: []CodeFile{{Path: "index.html", Content: "<html/>"}},
		Backend:  []CodeFile{{Path: "api/server.js", Content: "export {}"}},
	}
	files := snapshot.Flatten()
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].Path != "frontend/index.html" {
		t.Fatalf("expected tier prefix, got %q", files[0].Path)
	}

	back := SnapshotFromFiles(files)
	if len(back.Frontend) != 1 || back.Frontend[0].Path != "index.html" {
		t.Fatalf("expected frontend file restored, got %+v", back.Frontend)
	}
	if len(back.Backend) != 1 || back.Backend[0].Path != "api/server.js" {
		t.Fatalf("expected backend file restored, got %+v", back.Backend)
	}
}
