package project

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"ide-sandbox/internal/runtime"
)

// Project is the unit of code handed to the engine by its caller. The engine
// reads it and never mutates it.
type Project struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Language  runtime.Language  `json:"language"`
	Code      string            `json:"code"`
	Files     map[string]string `json:"files"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// New creates a project whose entry file holds code, or the language's
// hello-world template when code is empty.
func New(rt runtime.Runtime, name, code string) *Project {
	if code == "" {
		code = rt.DefaultCode()
	}
	now := time.Now().UTC()
	return &Project{
		ID:        uuid.New().String(),
		Name:      name,
		Language:  rt.Language(),
		Code:      code,
		Files:     map[string]string{rt.EntryFile(): code},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SanitizeFileName normalizes separators and drops empty, "." and ".."
// segments, so the result is always relative and never climbs out of its
// root. A name with nothing left sanitizes to "".
func SanitizeFileName(name string) string {
	parts := strings.Split(strings.ReplaceAll(name, `\`, "/"), "/")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		kept = append(kept, p)
	}
	if cleaned := path.Clean(strings.Join(kept, "/")); cleaned != "." {
		return cleaned
	}
	return ""
}

// NormalizeFileName sanitizes name, falling back to the entry file when
// nothing is left, and appends the entry file's extension to names without one.
func NormalizeFileName(rt runtime.Runtime, name string) string {
	if name == "" {
		name = rt.EntryFile()
	}
	sanitized := SanitizeFileName(name)
	if sanitized == "" {
		sanitized = SanitizeFileName(rt.EntryFile())
	}
	if strings.Contains(sanitized, ".") {
		return sanitized
	}
	return sanitized + path.Ext(rt.EntryFile())
}

// entryKey returns the Files key that names the entry file once normalized.
// An exact match wins over one that only normalizes to it.
func (p *Project) entryKey(rt runtime.Runtime) (string, bool) {
	entry := rt.EntryFile()
	if _, ok := p.Files[entry]; ok {
		return entry, true
	}
	keys := make([]string, 0, len(p.Files))
	for name := range p.Files {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	for _, name := range keys {
		if NormalizeFileName(rt, name) == entry {
			return name, true
		}
	}
	return "", false
}

// EntrySource returns the contents of the file that normalizes to the entry
// file, or Code when there is none.
func (p *Project) EntrySource(rt runtime.Runtime) string {
	if key, ok := p.entryKey(rt); ok {
		return p.Files[key]
	}
	return p.Code
}

// SourceFiles returns the project's files with the entry file synthesized
// from Code when it is missing.
func (p *Project) SourceFiles(rt runtime.Runtime) map[string]string {
	files := make(map[string]string, len(p.Files)+1)
	for name, contents := range p.Files {
		files[name] = contents
	}
	if _, ok := p.entryKey(rt); !ok && p.Code != "" {
		files[rt.EntryFile()] = p.Code
	}
	return files
}

// FileNames returns the sorted names of SourceFiles.
func (p *Project) FileNames(rt runtime.Runtime) []string {
	files := p.SourceFiles(rt)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
