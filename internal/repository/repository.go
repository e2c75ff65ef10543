// Package repository owns the canonical in-memory collection of
// projects and folders. It is the single source of truth: every
// project mutation goes through it, and every successful mutation is
// persisted through the durable store adapter. A failed save never
// rolls back memory — the worst outcome is a temporarily stale durable
// copy, which callers are told about through ErrPersist.
package repository

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"toolbench/internal/logging"
	"toolbench/internal/types"

	"github.com/google/uuid"
)

// Sentinel errors. ErrPersist wraps a storage failure that left the
// in-memory mutation applied; callers should treat it as a warning,
// not a rollback.
var (
	ErrNotFound  = errors.New("project not found")
	ErrEmptyName = errors.New("name must not be empty")
	ErrPersist   = errors.New("durable save failed, in-memory state retained")
)

// Persister is the durable store seam. Satisfied by *store.Store and
// by test fakes.
type Persister interface {
	Load() (types.Collection, error)
	Save(types.Collection) error
}

// Repository holds the live collection. Logically there is one
// mutation thread (the engine's buffer teardown discipline rules out
// concurrent edits), but debounced commits fire on timer goroutines,
// so a mutex still guards the collection.
type Repository struct {
	store Persister

	mu         sync.Mutex
	collection types.Collection

	now   func() time.Time
	newID func() string
}

// Option customizes a Repository.
type Option func(*Repository)

// WithClock replaces the timestamp source. Tests use this to control
// lastModified stamping.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator replaces the id source.
func WithIDGenerator(gen func() string) Option {
	return func(r *Repository) { r.newID = gen }
}

// New creates a repository backed by store and loads the persisted
// collection. A load failure is fatal to construction: starting with a
// silently empty collection would overwrite the user's data on the
// next save.
func New(store Persister, opts ...Option) (*Repository, error) {
	c, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}

	r := &Repository{
		store:      store,
		collection: c,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}

	logging.Repo("repository loaded: %d projects, %d folders", len(c.Projects), len(c.Folders))
	return r, nil
}

// persist writes the whole collection through the adapter. On failure
// the in-memory state stays as-is and the error comes back wrapped in
// ErrPersist.
func (r *Repository) persist() error {
	if err := r.store.Save(r.collection.Clone()); err != nil {
		logging.RepoWarn("save failed, durability degraded: %v", err)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// CreateProject creates a project with defaulted section payloads,
// appends it to the collection, and persists. The returned project is
// valid even when the error is ErrPersist.
func (r *Repository) CreateProject(name, folderID string) (types.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Project{}, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := types.Project{
		ID:           r.newID(),
		Name:         name,
		FolderID:     folderID,
		LastModified: r.now(),
		Data:         types.DefaultProjectData(),
	}
	r.collection.Projects = append(r.collection.Projects, p)
	logging.Repo("created project %s (%q)", p.ID, p.Name)

	err := r.persist()
	return r.cloneProject(p), err
}

// Get returns a deep copy of the project with the given id.
func (r *Repository) Get(id string) (types.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.find(id)
	if !ok {
		return types.Project{}, ErrNotFound
	}
	return r.cloneProject(*p), nil
}

// Section returns a deep copy of one section of a project.
func (r *Repository) Section(projectID string, key types.SectionKey) (types.Section, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.find(projectID)
	if !ok {
		return nil, ErrNotFound
	}
	section, ok := p.Data.Section(key)
	if !ok {
		return nil, fmt.Errorf("unknown section key %q", key)
	}
	return section, nil
}

// find returns a pointer into the collection; callers must hold mu.
func (r *Repository) find(id string) (*types.Project, bool) {
	for i := range r.collection.Projects {
		if r.collection.Projects[i].ID == id {
			return &r.collection.Projects[i], true
		}
	}
	return nil, false
}

// UpdateSection replaces exactly one section's payload and stamps
// lastModified. This is the only mutation path into project data.
// Validation failures and unknown projects leave the collection
// untouched; a persist failure leaves the mutation applied.
func (r *Repository) UpdateSection(projectID string, payload types.Section) error {
	if payload == nil {
		return fmt.Errorf("nil section payload")
	}
	if studio, ok := payload.(types.StudioSection); ok {
		if err := studio.Settings.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.find(projectID)
	if !ok {
		return ErrNotFound
	}
	p.Data.SetSection(payload.CloneSection())
	p.LastModified = r.now()
	logging.Repo("updated %s/%s", projectID, payload.SectionKey())
	return r.persist()
}

// DeleteProject removes a project. Idempotent: deleting an unknown id
// is not an error.
func (r *Repository) DeleteProject(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.collection.Projects {
		if r.collection.Projects[i].ID == id {
			r.collection.Projects = append(r.collection.Projects[:i], r.collection.Projects[i+1:]...)
			logging.Repo("deleted project %s", id)
			return r.persist()
		}
	}
	return nil
}

// RenameProject changes a project's display name. Names are not unique
// and renaming is metadata only, so lastModified is left alone.
func (r *Repository) RenameProject(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.find(id)
	if !ok {
		return ErrNotFound
	}
	p.Name = name
	return r.persist()
}

// ListProjects returns deep copies of all projects, most recently
// modified first.
func (r *Repository) ListProjects() []types.Project {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Project, 0, len(r.collection.Projects))
	for i := range r.collection.Projects {
		out = append(out, r.cloneProject(r.collection.Projects[i]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out
}

// CreateFolder creates a named folder for grouping listings.
func (r *Repository) CreateFolder(name string) (types.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Folder{}, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f := types.Folder{ID: r.newID(), Name: name}
	r.collection.Folders = append(r.collection.Folders, f)
	return f, r.persist()
}

// DeleteFolder removes a folder. Projects referencing it keep their
// folderId and simply list as ungrouped — deletion never cascades.
func (r *Repository) DeleteFolder(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.collection.Folders {
		if r.collection.Folders[i].ID == id {
			r.collection.Folders = append(r.collection.Folders[:i], r.collection.Folders[i+1:]...)
			return r.persist()
		}
	}
	return nil
}

// ListFolders returns copies of all folders.
func (r *Repository) ListFolders() []types.Folder {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Folder, len(r.collection.Folders))
	copy(out, r.collection.Folders)
	return out
}

func (r *Repository) cloneProject(p types.Project) types.Project {
	p.Data = p.Data.Clone()
	return p
}
