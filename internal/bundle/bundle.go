// Package bundle models a Storm content bundle: a directory holding a
// manifest, an entry point and four content sections. It is pure data access;
// verification and mutation policy live in the integrity and updater packages.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Well-known names inside a bundle directory.
const (
	ManifestFile = "manifest.json"
	EntryPoint   = "app.json"

	SectionPages     = "pages"
	SectionContent   = "content"
	SectionLanguages = "languages"
	SectionData      = "data"

	// StagingDir is the ephemeral extraction target created under the
	// storage root while a download is in flight.
	StagingDir = "delta"
)

// Sections lists the manifest sections in their canonical order. Each section
// name doubles as the subdirectory name under the bundle root.
var Sections = []string{SectionPages, SectionContent, SectionLanguages, SectionData}

var (
	ErrMalformedManifest = errors.New("malformed manifest")
	ErrNoManifest        = errors.New("no manifest present")
)

// FileDescriptor is a single manifest entry: a path relative to its section
// directory and the hex digest of the file's content.
type FileDescriptor struct {
	Src  string `json:"src"`
	Hash string `json:"hash"`
}

// Manifest is the inventory of a bundle. Timestamp is epoch millis of the
// server publish; it strictly increases across successive publishes.
type Manifest struct {
	Timestamp int64            `json:"timestamp"`
	Pages     []FileDescriptor `json:"pages"`
	Content   []FileDescriptor `json:"content"`
	Languages []FileDescriptor `json:"languages"`
	Data      []FileDescriptor `json:"data"`
}

// Section returns the descriptors for the named section.
func (m *Manifest) Section(name string) []FileDescriptor {
	switch name {
	case SectionPages:
		return m.Pages
	case SectionContent:
		return m.Content
	case SectionLanguages:
		return m.Languages
	case SectionData:
		return m.Data
	}
	return nil
}

// rawManifest mirrors the wire shape with pointer fields so that absent
// sections and a missing timestamp can be told apart from empty ones.
type rawManifest struct {
	Timestamp *json.Number     `json:"timestamp"`
	Pages     *[]rawDescriptor `json:"pages"`
	Content   *[]rawDescriptor `json:"content"`
	Languages *[]rawDescriptor `json:"languages"`
	Data      *[]rawDescriptor `json:"data"`
}

type rawDescriptor struct {
	Src  *string `json:"src"`
	Hash *string `json:"hash"`
}

// ParseManifest decodes a manifest document. It fails with
// ErrMalformedManifest when any of the four sections is missing, any
// descriptor lacks src or hash, or the timestamp is missing or non-numeric.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}

	if raw.Timestamp == nil {
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformedManifest)
	}
	ts, err := raw.Timestamp.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric timestamp %q", ErrMalformedManifest, raw.Timestamp.String())
	}

	m := &Manifest{Timestamp: ts}
	for name, src := range map[string]*[]rawDescriptor{
		SectionPages:     raw.Pages,
		SectionContent:   raw.Content,
		SectionLanguages: raw.Languages,
		SectionData:      raw.Data,
	} {
		if src == nil {
			return nil, fmt.Errorf("%w: missing section %q", ErrMalformedManifest, name)
		}
		descs := make([]FileDescriptor, 0, len(*src))
		for i, d := range *src {
			if d.Src == nil || d.Hash == nil {
				return nil, fmt.Errorf("%w: section %q entry %d lacks src or hash", ErrMalformedManifest, name, i)
			}
			descs = append(descs, FileDescriptor{Src: *d.Src, Hash: *d.Hash})
		}
		switch name {
		case SectionPages:
			m.Pages = descs
		case SectionContent:
			m.Content = descs
		case SectionLanguages:
			m.Languages = descs
		case SectionData:
			m.Data = descs
		}
	}

	return m, nil
}

// ReadManifest reads and parses dir/manifest.json. A missing file yields
// ErrNoManifest; an unreadable or invalid one yields ErrMalformedManifest.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// Timestamp returns the publish timestamp of the bundle at dir, or
// ErrNoManifest when no local content exists.
func Timestamp(dir string) (int64, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return 0, err
	}
	return m.Timestamp, nil
}

// HasContent reports whether dir holds a readable bundle manifest.
func HasContent(dir string) bool {
	_, err := Timestamp(dir)
	return err == nil
}

// Clear deletes the bundle-owned entries under dir: the four section
// directories, the manifest and the entry point. Other files under dir are
// left alone so the storage root can be shared with unrelated state.
func Clear(dir string) error {
	targets := make([]string, 0, len(Sections)+2)
	for _, section := range Sections {
		targets = append(targets, filepath.Join(dir, section))
	}
	targets = append(targets,
		filepath.Join(dir, ManifestFile),
		filepath.Join(dir, EntryPoint),
	)

	for _, target := range targets {
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("clear %s: %w", target, err)
		}
	}
	return nil
}
