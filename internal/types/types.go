// Package types provides the shared data model used across toolbench
// packages: projects, folders, per-tool section payloads, chat messages,
// and studio run settings. This package exists so the repository, buffer,
// gateway, and workspace layers can share types without import cycles.
// Types here are foundational data structures with no heavy dependencies.
package types

import (
	"fmt"
	"strings"
	"time"
)

// SectionKey identifies one tool's slice of a project's data.
type SectionKey string

const (
	SectionReview     SectionKey = "review"     // code sparring / review assistant
	SectionStudio     SectionKey = "studio"     // chat & prompt studio
	SectionArchitect  SectionKey = "architect"  // system design generator
	SectionStorefront SectionKey = "storefront" // storefront copy manager
)

// SectionKeys lists every tool key in canonical order. Every project
// carries a payload for each of these; there are no partial projects.
var SectionKeys = []SectionKey{
	SectionReview,
	SectionStudio,
	SectionArchitect,
	SectionStorefront,
}

// Valid reports whether k names a known tool section.
func (k SectionKey) Valid() bool {
	switch k {
	case SectionReview, SectionStudio, SectionArchitect, SectionStorefront:
		return true
	}
	return false
}

// Project is a named, independently-owned bundle of per-tool session
// data. The ID is assigned once at creation and never reused. Name is
// user-editable and not unique. FolderID may reference a folder that no
// longer exists; such projects list as ungrouped.
type Project struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	FolderID     string      `json:"folderId,omitempty"`
	LastModified time.Time   `json:"lastModified"`
	Data         ProjectData `json:"data"`
}

// Folder groups projects in listings. Deleting a folder never cascades
// to its projects.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Collection is the durable unit: the whole set of projects and folders
// persisted as one record.
type Collection struct {
	Projects []Project `json:"projects"`
	Folders  []Folder  `json:"folders"`
}

// Clone returns a deep copy of the collection. The store hands clones
// outward so callers can never alias the repository's canonical state.
func (c Collection) Clone() Collection {
	out := Collection{
		Projects: make([]Project, len(c.Projects)),
		Folders:  make([]Folder, len(c.Folders)),
	}
	copy(out.Folders, c.Folders)
	for i, p := range c.Projects {
		p.Data = p.Data.Clone()
		out.Projects[i] = p
	}
	return out
}

// Role identifies the author of a chat transcript entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one chat transcript entry. Transcripts are append-only
// during a session; entries are never reordered or deleted individually,
// only the whole transcript may be cleared. Error marks a failed model
// turn so the UI can flag it.
type Message struct {
	Role  Role   `json:"role"`
	Text  string `json:"text"`
	Error bool   `json:"error,omitempty"`
}

// RunSettings configures a studio generation run.
type RunSettings struct {
	Model             string  `json:"model"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"topP"`
	TopK              int     `json:"topK"`
	MaxOutputTokens   int     `json:"maxOutputTokens"`
	SystemInstruction string  `json:"systemInstruction,omitempty"`
}

// Validate rejects out-of-range settings. Values are never clamped:
// an out-of-range value is a caller error and the operation carrying it
// must have no effect.
func (s RunSettings) Validate() error {
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("run settings: model is required")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("run settings: temperature %v out of range [0,2]", s.Temperature)
	}
	if s.TopP < 0 || s.TopP > 1 {
		return fmt.Errorf("run settings: topP %v out of range [0,1]", s.TopP)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("run settings: topK must be a positive integer, got %d", s.TopK)
	}
	if s.MaxOutputTokens <= 0 {
		return fmt.Errorf("run settings: maxOutputTokens must be a positive integer, got %d", s.MaxOutputTokens)
	}
	return nil
}

// DefaultModel is the model new sections start with.
const DefaultModel = "gemini-3-flash-preview"

// DefaultRunSettings returns the studio defaults for a new project.
func DefaultRunSettings() RunSettings {
	return RunSettings{
		Model:           DefaultModel,
		Temperature:     1.0,
		TopP:            0.95,
		TopK:            40,
		MaxOutputTokens: 8192,
	}
}
