package buffer

import (
	"fmt"
	"sync"
	"time"

	"toolbench/internal/logging"
	"toolbench/internal/types"

	"github.com/google/go-cmp/cmp"
)

// DefaultQuietPeriod is the delay after the last edit before a change
// is committed to the repository.
const DefaultQuietPeriod = time.Second

// Committer is the repository seam the buffer commits through.
type Committer interface {
	Section(projectID string, key types.SectionKey) (types.Section, error)
	UpdateSection(projectID string, payload types.Section) error
}

// SectionBuffer holds the borrowed, mutable working copy of exactly one
// project's one section. Edits land in the local copy and are committed
// after the quiet period; a pending commit never leaks into another
// project because switching always flushes first. Discard the buffer
// (via Flush) when the active tool or project changes — buffers are not
// reused.
type SectionBuffer struct {
	mu        sync.Mutex
	repo      Committer
	projectID string
	key       types.SectionKey
	local     types.Section // working copy, owned by the buffer
	synced    types.Section // what the repository last acknowledged
	debouncer *Debouncer
}

// New creates a buffer initialized from the project's stored payload.
func New(repo Committer, projectID string, key types.SectionKey, quiet time.Duration) (*SectionBuffer, error) {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	stored, err := repo.Section(projectID, key)
	if err != nil {
		return nil, fmt.Errorf("initialize buffer for %s/%s: %w", projectID, key, err)
	}

	logging.BufferDebug("buffer opened for %s/%s (quiet %v)", projectID, key, quiet)
	return &SectionBuffer{
		repo:      repo,
		projectID: projectID,
		key:       key,
		local:     stored,
		synced:    stored.CloneSection(),
		debouncer: NewDebouncer(quiet),
	}, nil
}

// validate rejects payloads the repository would refuse, so the caller
// hears about a bad value synchronously instead of a timer goroutine
// discovering it later.
func validate(payload types.Section) error {
	if studio, ok := payload.(types.StudioSection); ok {
		return studio.Settings.Validate()
	}
	return nil
}

// ProjectID reports which project this buffer belongs to.
func (b *SectionBuffer) ProjectID() string { return b.projectID }

// Key reports which tool section this buffer holds.
func (b *SectionBuffer) Key() types.SectionKey { return b.key }

// Snapshot returns a deep copy of the current working copy.
func (b *SectionBuffer) Snapshot() types.Section {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.local.CloneSection()
}

// Edit replaces the working copy and (re)arms the commit timer. Two
// edits within the quiet period coalesce: only the latest value is
// committed, never a queue of intermediates.
func (b *SectionBuffer) Edit(payload types.Section) error {
	if payload.SectionKey() != b.key {
		return fmt.Errorf("payload for %q offered to %q buffer", payload.SectionKey(), b.key)
	}
	if err := validate(payload); err != nil {
		return err
	}

	b.mu.Lock()
	b.local = payload.CloneSection()
	b.mu.Unlock()

	b.debouncer.Debounce(b.commit)
	return nil
}

// commit runs on timer fire. It compares the working copy against the
// last payload the repository acknowledged and writes only when they
// differ, so an unchanged value never advances lastModified.
func (b *SectionBuffer) commit() {
	if err := b.flushNow(); err != nil {
		// The working copy stays dirty; the next edit or flush retries.
		logging.Get(logging.CategoryBuffer).Error("debounced commit for %s/%s: %v", b.projectID, b.key, err)
	}
}

func (b *SectionBuffer) flushNow() error {
	b.mu.Lock()
	local := b.local.CloneSection()
	synced := b.synced
	b.mu.Unlock()

	if cmp.Equal(local, synced) {
		logging.BufferDebug("commit skipped for %s/%s: unchanged", b.projectID, b.key)
		return nil
	}

	if err := b.repo.UpdateSection(b.projectID, local); err != nil {
		return err
	}
	b.mu.Lock()
	b.synced = local
	b.mu.Unlock()
	logging.Buffer("committed %s/%s", b.projectID, b.key)
	return nil
}

// Flush cancels any pending timer and commits immediately if the
// working copy differs from the last-synced snapshot. A buffer with no
// local edits never writes, so a flush cannot clobber a repository
// change made behind its back. Call before switching the active
// project or tool; after Flush the buffer must be discarded and a
// fresh one created from the newly selected project.
func (b *SectionBuffer) Flush() error {
	b.debouncer.Cancel()
	return b.flushNow()
}

// Cancel drops any pending commit without writing it. Used when the
// buffer's project is deleted and there is nothing left to commit into.
func (b *SectionBuffer) Cancel() {
	if b.debouncer.Cancel() {
		logging.BufferDebug("pending commit for %s/%s dropped", b.projectID, b.key)
	}
}

// Commit writes payload through to the repository immediately,
// bypassing the debounce timer. Used for synchronous result writes
// (e.g. an arriving chat reply) that must not be lost if the user
// navigates away before a timer would have fired.
func (b *SectionBuffer) Commit(payload types.Section) error {
	if payload.SectionKey() != b.key {
		return fmt.Errorf("payload for %q offered to %q buffer", payload.SectionKey(), b.key)
	}
	if err := validate(payload); err != nil {
		return err
	}

	b.debouncer.Cancel()
	b.mu.Lock()
	b.local = payload.CloneSection()
	b.mu.Unlock()

	if err := b.repo.UpdateSection(b.projectID, payload.CloneSection()); err != nil {
		return err
	}
	b.mu.Lock()
	b.synced = payload.CloneSection()
	b.mu.Unlock()
	logging.Buffer("immediate commit %s/%s", b.projectID, b.key)
	return nil
}
