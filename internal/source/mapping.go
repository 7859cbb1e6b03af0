package source

import (
	"fmt"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// ErrIndexOutOfRange is returned when a display index falls outside the valid
// range of the current file listing.
var ErrIndexOutOfRange = fmt.Errorf("file index out of range")

// FileEntry pairs a display index with a file name.
type FileEntry struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// FileIndexMapping is an immutable, display-sorted view over a file listing
// whose underlying order is unspecified. Clients see indexes into a
// name-sorted permutation, so file-selection commands stay stable across
// restarts regardless of how the engine enumerates the listing.
type FileIndexMapping struct {
	// sorted[displayIndex] = (sourceIndex, name)
	sorted []sortedFile
}

type sortedFile struct {
	source int
	name   string
}

// NewFileIndexMapping builds the mapping from names in source order.
func NewFileIndexMapping(names []string) *FileIndexMapping {
	m := &FileIndexMapping{sorted: make([]sortedFile, len(names))}
	for i, name := range names {
		m.sorted[i] = sortedFile{source: i, name: name}
	}
	collator := collate.New(language.Und)
	sort.SliceStable(m.sorted, func(i, j int) bool {
		return collator.CompareString(m.sorted[i].name, m.sorted[j].name) < 0
	})
	return m
}

// Len reports the number of files in the listing.
func (m *FileIndexMapping) Len() int {
	return len(m.sorted)
}

// ListSorted returns the files in display order. The result is always the
// same for the same underlying content.
func (m *FileIndexMapping) ListSorted() []FileEntry {
	entries := make([]FileEntry, len(m.sorted))
	for i, f := range m.sorted {
		entries[i] = FileEntry{Index: i, Name: f.name}
	}
	return entries
}

// ToSourceIndex translates a display index into the engine's source index.
func (m *FileIndexMapping) ToSourceIndex(displayIndex int) (int, error) {
	if displayIndex < 0 || displayIndex >= len(m.sorted) {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, displayIndex, len(m.sorted))
	}
	return m.sorted[displayIndex].source, nil
}

// Name returns the display name at the given display index.
func (m *FileIndexMapping) Name(displayIndex int) (string, error) {
	if displayIndex < 0 || displayIndex >= len(m.sorted) {
		return "", fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, displayIndex, len(m.sorted))
	}
	return m.sorted[displayIndex].name, nil
}
