package domain

import (
	"encoding/json"
	"strings"
)

// CodeFile is one file inside a snapshot. Content is always a string on the
// wire; generation occasionally hands back structured data, which is
// serialized on unmarshal rather than rejected.
type CodeFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// UnmarshalJSON tolerates non-string content by JSON-serializing it.
func (f *CodeFile) UnmarshalJSON(data []byte) error {
	var raw struct {
		Path    string          `json:"path"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Path = raw.Path
	if len(raw.Content) == 0 {
		f.Content = ""
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw.Content, &asString); err == nil {
		f.Content = asString
		return nil
	}
	f.Content = string(raw.Content)
	return nil
}

// CodeSnapshot is a full generated source tree, grouped by tier.
type CodeSnapshot struct {
	Frontend []CodeFile `json:"frontend"`
	Backend  []CodeFile `json:"backend"`
}

// IsEmpty reports whether the snapshot carries no files at all.
func (s CodeSnapshot) IsEmpty() bool {
	return len(s.Frontend) == 0 && len(s.Backend) == 0
}

// Flatten returns every file prefixed by its tier, the layout used for
// archive storage.
func (s CodeSnapshot) Flatten() []CodeFile {
	files := make([]CodeFile, 0, len(s.Frontend)+len(s.Backend))
	for _, f := range s.Frontend {
		files = append(files, CodeFile{Path: "frontend/" + strings.TrimPrefix(f.Path, "/"), Content: f.Content})
	}
	for _, f := range s.Backend {
		files = append(files, CodeFile{Path: "backend/" + strings.TrimPrefix(f.Path, "/"), Content: f.Content})
	}
	return files
}

// SnapshotFromFiles partitions tier-prefixed paths back into a snapshot,
// the inverse of Flatten. Files outside a known tier are dropped.
func SnapshotFromFiles(files []CodeFile) CodeSnapshot {
	var snapshot CodeSnapshot
	for _, f := range files {
		switch {
		case strings.HasPrefix(f.Path, "frontend/"):
			snapshot.Frontend = append(snapshot.Frontend, CodeFile{
				Path:    strings.TrimPrefix(f.Path, "frontend/"),
				Content: f.Content,
			})
		case strings.HasPrefix(f.Path, "backend/"):
			snapshot.Backend = append(snapshot.Backend, CodeFile{
				Path:    strings.TrimPrefix(f.Path, "backend/"),
				Content: f.Content,
			})
		}
	}
	return snapshot
}
