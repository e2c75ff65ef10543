// Package workspace is the engine tying the repository, the section
// buffers, the action router, and the dispatch gateway together. All
// mutation flows through one logical thread: exactly one buffer is
// active at a time, and switching the active project or tool always
// flushes and discards the previous buffer before a new one exists.
// That teardown discipline is the engine's whole mutual-exclusion
// story; no other locking is needed.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"toolbench/internal/buffer"
	"toolbench/internal/gateway"
	"toolbench/internal/logging"
	"toolbench/internal/persona"
	"toolbench/internal/repository"
	"toolbench/internal/types"
)

// ErrNoActiveProject means an edit or action arrived before a project
// was opened.
var ErrNoActiveProject = errors.New("no active project")

// Engine owns the active buffer and the dispatch path. Results of a
// dispatch are addressed by project id and section key captured at
// send time, so a completion that arrives after the user has moved on
// still lands on the project that asked for it.
type Engine struct {
	repo   *repository.Repository
	client gateway.Client
	router *persona.Router
	quiet  time.Duration

	buf *buffer.SectionBuffer
}

// New creates an engine. The gateway client is injected so tests can
// substitute a fake service.
func New(repo *repository.Repository, client gateway.Client, router *persona.Router, quiet time.Duration) *Engine {
	if quiet <= 0 {
		quiet = buffer.DefaultQuietPeriod
	}
	return &Engine{
		repo:   repo,
		client: client,
		router: router,
		quiet:  quiet,
	}
}

// Repository exposes the project collection for listing and CRUD.
func (e *Engine) Repository() *repository.Repository { return e.repo }

// ActiveProject reports the project the active buffer belongs to, or
// empty when nothing is open.
func (e *Engine) ActiveProject() string {
	if e.buf == nil {
		return ""
	}
	return e.buf.ProjectID()
}

// ActiveTool reports the active buffer's tool.
func (e *Engine) ActiveTool() types.SectionKey {
	if e.buf == nil {
		return ""
	}
	return e.buf.Key()
}

// Open activates a project's tool section. Any previous buffer is
// flushed first and then discarded, so a pending edit on the old
// selection is committed before the new one can observe repository
// state.
func (e *Engine) Open(projectID string, tool types.SectionKey) error {
	if !tool.Valid() {
		return fmt.Errorf("unknown tool %q", tool)
	}
	if err := e.teardown(); err != nil {
		return err
	}

	buf, err := buffer.New(e.repo, projectID, tool, e.quiet)
	if err != nil {
		return err
	}
	e.buf = buf
	logging.Workspace("opened %s/%s", projectID, tool)
	return nil
}

// SwitchTool changes the active tool on the current project.
func (e *Engine) SwitchTool(tool types.SectionKey) error {
	if e.buf == nil {
		return ErrNoActiveProject
	}
	return e.Open(e.buf.ProjectID(), tool)
}

// Close flushes and discards the active buffer.
func (e *Engine) Close() error {
	err := e.teardown()
	e.buf = nil
	return err
}

func (e *Engine) teardown() error {
	if e.buf == nil {
		return nil
	}
	err := e.buf.Flush()
	e.buf = nil
	if err != nil && !errors.Is(err, repository.ErrPersist) {
		return fmt.Errorf("flush on switch: %w", err)
	}
	if errors.Is(err, repository.ErrPersist) {
		logging.Workspace("flush on switch: durability degraded: %v", err)
	}
	return nil
}

// Snapshot returns a deep copy of the active section's working copy.
func (e *Engine) Snapshot() (types.Section, error) {
	if e.buf == nil {
		return nil, ErrNoActiveProject
	}
	return e.buf.Snapshot(), nil
}

// Edit replaces the active section's working copy; the commit happens
// after the quiet period.
func (e *Engine) Edit(payload types.Section) error {
	if e.buf == nil {
		return ErrNoActiveProject
	}
	return e.buf.Edit(payload)
}

// Flush commits any pending edit immediately.
func (e *Engine) Flush() error {
	if e.buf == nil {
		return nil
	}
	return e.buf.Flush()
}

// DeleteProject removes a project; if it is the open one, the buffer
// is discarded without a flush — there is nothing left to commit into.
func (e *Engine) DeleteProject(id string) error {
	if e.buf != nil && e.buf.ProjectID() == id {
		e.buf.Cancel()
		e.buf = nil
	}
	return e.repo.DeleteProject(id)
}

// RunAction dispatches a tool action for the active section and
// applies the result. The pending edit is flushed first so the request
// reflects what the user sees. The target of the result is captured
// before the call: if the user navigates away while the service is
// thinking, the completion still lands on the originating project and
// section.
func (e *Engine) RunAction(ctx context.Context, actionID string) error {
	if e.buf == nil {
		return ErrNoActiveProject
	}
	projectID, key := e.buf.ProjectID(), e.buf.Key()

	if err := e.buf.Flush(); err != nil && !errors.Is(err, repository.ErrPersist) {
		return fmt.Errorf("flush before dispatch: %w", err)
	}
	section := e.buf.Snapshot()

	req, err := e.router.BuildRequest(actionID, section)
	if err != nil {
		return err
	}

	logging.Router("dispatching %s for %s/%s", actionID, projectID, key)
	resp, dispatchErr := e.client.Generate(ctx, req)
	if dispatchErr != nil {
		if applyErr := e.applySection(projectID, key, func(s types.Section) types.Section {
			return recordFailure(s, dispatchErr)
		}); applyErr != nil && !errors.Is(applyErr, repository.ErrPersist) {
			logging.Workspace("record failure for %s/%s: %v", projectID, key, applyErr)
		}
		return dispatchErr
	}

	var parseErr error
	applyErr := e.applySection(projectID, key, func(s types.Section) types.Section {
		s, parseErr = recordResult(s, resp.Text, req.WantJSON)
		return s
	})
	if applyErr != nil && !errors.Is(applyErr, repository.ErrPersist) {
		return applyErr
	}
	return parseErr
}

// SendMessage appends a user message to the studio transcript, commits
// it immediately, dispatches the whole history, and commits the reply.
// A failed dispatch is recorded as an error-flagged model message so
// the transcript shows what happened; the error is also returned.
func (e *Engine) SendMessage(ctx context.Context, text string) error {
	if e.buf == nil {
		return ErrNoActiveProject
	}
	if e.buf.Key() != types.SectionStudio {
		return fmt.Errorf("chat needs the %s tool, %s is active", types.SectionStudio, e.buf.Key())
	}
	projectID := e.buf.ProjectID()

	studio, ok := e.buf.Snapshot().(types.StudioSection)
	if !ok {
		return fmt.Errorf("unexpected payload type in %s buffer", types.SectionStudio)
	}
	studio.Messages = append(studio.Messages, types.Message{Role: types.RoleUser, Text: text})

	// Chat turns commit immediately: a transcript entry must not sit
	// in a debounce window where navigating away could lose it.
	if err := e.buf.Commit(studio); err != nil && !errors.Is(err, repository.ErrPersist) {
		return err
	}

	resp, dispatchErr := e.client.Generate(ctx, gateway.Request{
		SystemInstruction: studio.Settings.SystemInstruction,
		History:           studio.Messages,
		Settings:          studio.Settings,
	})

	reply := types.Message{Role: types.RoleModel}
	if dispatchErr != nil {
		reply.Text = dispatchErr.Error()
		reply.Error = true
	} else {
		reply.Text = resp.Text
	}

	applyErr := e.applySection(projectID, types.SectionStudio, func(s types.Section) types.Section {
		studio, ok := s.(types.StudioSection)
		if !ok {
			return s
		}
		studio.Messages = append(studio.Messages, reply)
		return studio
	})
	if dispatchErr != nil {
		return dispatchErr
	}
	if applyErr != nil && !errors.Is(applyErr, repository.ErrPersist) {
		return applyErr
	}
	return nil
}

// ClearTranscript empties the studio transcript. Individual messages
// are never deleted or reordered; clearing the whole transcript is the
// only removal the tool offers.
func (e *Engine) ClearTranscript() error {
	if e.buf == nil {
		return ErrNoActiveProject
	}
	studio, ok := e.buf.Snapshot().(types.StudioSection)
	if !ok {
		return fmt.Errorf("chat needs the %s tool, %s is active", types.SectionStudio, e.buf.Key())
	}
	studio.Messages = nil
	return e.buf.Commit(studio)
}

// applySection writes a mutated section addressed by project id and
// key. If the target is still the active buffer, the write goes
// through it so the working copy stays in sync; otherwise it lands in
// the repository directly.
func (e *Engine) applySection(projectID string, key types.SectionKey, mutate func(types.Section) types.Section) error {
	if e.buf != nil && e.buf.ProjectID() == projectID && e.buf.Key() == key {
		return e.buf.Commit(mutate(e.buf.Snapshot()))
	}
	stored, err := e.repo.Section(projectID, key)
	if err != nil {
		return err
	}
	return e.repo.UpdateSection(projectID, mutate(stored))
}

// recordResult writes a completion into the section's derived output
// slot. Structured completions are parsed here; a parse failure keeps
// the raw text so nothing is lost, and the malformed-response error is
// reported distinctly from a transport failure.
func recordResult(s types.Section, text string, structured bool) (types.Section, error) {
	switch v := s.(type) {
	case types.ReviewSection:
		v.Output = text
		return v, nil
	case types.ArchitectSection:
		v.RawOutput = text
		if !structured {
			return v, nil
		}
		var bp types.Blueprint
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &bp); err != nil {
			v.Blueprint = nil
			return v, fmt.Errorf("%w: blueprint: %v", gateway.ErrMalformed, err)
		}
		v.Blueprint = &bp
		return v, nil
	case types.StorefrontSection:
		v.Copy = text
		return v, nil
	default:
		return s, nil
	}
}

// recordFailure writes the failure state into the derived output slot
// so the user sees what happened when they return to the tool.
func recordFailure(s types.Section, dispatchErr error) types.Section {
	msg := "Error: " + dispatchErr.Error()
	switch v := s.(type) {
	case types.ReviewSection:
		v.Output = msg
		return v
	case types.ArchitectSection:
		v.RawOutput = msg
		return v
	case types.StorefrontSection:
		v.Copy = msg
		return v
	default:
		return s
	}
}
