package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"toolbench/internal/gateway"
	"toolbench/internal/persona"
	"toolbench/internal/repository"
	"toolbench/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memStore is an in-memory Persister; the mutex covers timer-fired
// commits.
type memStore struct {
	mu sync.Mutex
	c  types.Collection
}

func (m *memStore) Load() (types.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c.Clone(), nil
}

func (m *memStore) Save(c types.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = c
	return nil
}

func (m *memStore) project(t *testing.T, id string) types.Project {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.c.Projects {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("project %s not persisted", id)
	return types.Project{}
}

// fakeClient is a scriptable gateway.
type fakeClient struct {
	mu         sync.Mutex
	resp       gateway.Response
	err        error
	onGenerate func(gateway.Request) (gateway.Response, error)
	calls      []gateway.Request
}

func (f *fakeClient) Generate(_ context.Context, req gateway.Request) (gateway.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.onGenerate != nil {
		return f.onGenerate(req)
	}
	return f.resp, f.err
}

func (f *fakeClient) lastCall(t *testing.T) gateway.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

const quiet = 20 * time.Millisecond

func settle() { time.Sleep(5 * quiet) }

func newEngine(t *testing.T, client *fakeClient) (*Engine, *memStore) {
	t.Helper()
	ms := &memStore{}
	repo, err := repository.New(ms)
	require.NoError(t, err)
	router, err := persona.Load()
	require.NoError(t, err)

	e := New(repo, client, router, quiet)
	t.Cleanup(func() { _ = e.Close() })
	return e, ms
}

// The end-to-end flow: create, edit, wait out the quiet period,
// dispatch, observe the immediate result write.
func TestScenarioCreateEditDispatch(t *testing.T) {
	client := &fakeClient{resp: gateway.Response{Text: "Refactored: const x = 1;"}}
	e, ms := newEngine(t, client)

	p, err := e.Repository().CreateProject("Demo", "")
	require.NoError(t, err)
	for _, key := range types.SectionKeys {
		_, ok := p.Data.Section(key)
		require.True(t, ok, "default payload missing for %q", key)
	}
	created := p.LastModified

	require.NoError(t, e.Open(p.ID, types.SectionReview))
	review := p.Data.Review
	review.Code = "const x = 1;"
	require.NoError(t, e.Edit(review))
	settle()

	stored, err := e.Repository().Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "const x = 1;", stored.Data.Review.Code)
	assert.True(t, stored.LastModified.After(created), "lastModified must increase on commit")

	require.NoError(t, e.RunAction(context.Background(), "refactor"))

	// The result is visible immediately, no debounce wait.
	snap, err := e.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "Refactored: const x = 1;", snap.(types.ReviewSection).Output)
	assert.Equal(t, "Refactored: const x = 1;", ms.project(t, p.ID).Data.Review.Output, "result write must be persisted")
}

func TestLateResultLandsOnOriginatingProject(t *testing.T) {
	client := &fakeClient{}
	e, _ := newEngine(t, client)

	a, err := e.Repository().CreateProject("A", "")
	require.NoError(t, err)
	b, err := e.Repository().CreateProject("B", "")
	require.NoError(t, err)

	require.NoError(t, e.Open(a.ID, types.SectionReview))

	// The user navigates away while the service is still thinking.
	client.onGenerate = func(gateway.Request) (gateway.Response, error) {
		require.NoError(t, e.Open(b.ID, types.SectionReview))
		return gateway.Response{Text: "late completion"}, nil
	}
	require.NoError(t, e.RunAction(context.Background(), "review"))

	gotA, err := e.Repository().Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "late completion", gotA.Data.Review.Output, "result is addressed by id, not by current selection")

	gotB, err := e.Repository().Get(b.ID)
	require.NoError(t, err)
	assert.Empty(t, gotB.Data.Review.Output, "the newly selected project must not receive the result")
	assert.Equal(t, b.ID, e.ActiveProject())
}

func TestRunActionFlushesPendingEditFirst(t *testing.T) {
	client := &fakeClient{resp: gateway.Response{Text: "ok"}}
	e, _ := newEngine(t, client)

	p, _ := e.Repository().CreateProject("Demo", "")
	require.NoError(t, e.Open(p.ID, types.SectionReview))

	review := p.Data.Review
	review.Code = "fresh keystrokes"
	require.NoError(t, e.Edit(review))
	require.NoError(t, e.RunAction(context.Background(), "review"))

	assert.Contains(t, client.lastCall(t).Prompt, "fresh keystrokes", "dispatch must see the working copy, not stale stored state")
}

func TestRunActionTransportFailureRecordsError(t *testing.T) {
	client := &fakeClient{err: gateway.ErrTransport}
	e, _ := newEngine(t, client)

	p, _ := e.Repository().CreateProject("Demo", "")
	require.NoError(t, e.Open(p.ID, types.SectionReview))

	err := e.RunAction(context.Background(), "review")
	assert.ErrorIs(t, err, gateway.ErrTransport)

	snap, _ := e.Snapshot()
	assert.Contains(t, snap.(types.ReviewSection).Output, "Error:", "the section records the failure state")
}

func TestRunActionBlueprintParsed(t *testing.T) {
	client := &fakeClient{resp: gateway.Response{
		Text: `{"overview":"two services","components":[{"name":"api","purpose":"serve","dependsOn":["db"]},{"name":"db","purpose":"store"}]}`,
	}}
	e, _ := newEngine(t, client)

	p, _ := e.Repository().CreateProject("Demo", "")
	require.NoError(t, e.Open(p.ID, types.SectionArchitect))
	arch := p.Data.Architect
	arch.Brief = "a two-tier app"
	require.NoError(t, e.Edit(arch))

	require.NoError(t, e.RunAction(context.Background(), "blueprint"))
	assert.True(t, client.lastCall(t).WantJSON)

	snap, _ := e.Snapshot()
	got := snap.(types.ArchitectSection)
	require.NotNil(t, got.Blueprint)
	assert.Equal(t, "two services", got.Blueprint.Overview)
	require.Len(t, got.Blueprint.Components, 2)
	assert.Equal(t, []string{"db"}, got.Blueprint.Components[0].DependsOn)
}

func TestRunActionBlueprintMalformedKeepsRawText(t *testing.T) {
	client := &fakeClient{resp: gateway.Response{Text: "Sure! Here is your architecture: ..."}}
	e, _ := newEngine(t, client)

	p, _ := e.Repository().CreateProject("Demo", "")
	require.NoError(t, e.Open(p.ID, types.SectionArchitect))

	err := e.RunAction(context.Background(), "blueprint")
	assert.ErrorIs(t, err, gateway.ErrMalformed, "parse failure is distinct from transport failure")

	snap, _ := e.Snapshot()
	got := snap.(types.ArchitectSection)
	assert.Nil(t, got.Blueprint)
	assert.Equal(t, "Sure! Here is your architecture: ...", got.RawOutput, "raw text survives a parse failure")
}

func TestSendMessageCommitsImmediately(t *testing.T) {
	client := &fakeClient{resp: gateway.Response{Text: "hi there"}}
	e, ms := newEngine(t, client)

	p, _ := e.Repository().CreateProject("Demo", "")
	require.NoError(t, e.Open(p.ID, types.SectionStudio))

	require.NoError(t, e.SendMessage(context.Background(), "hello"))

	// Both turns are persisted without waiting for any quiet period.
	msgs := ms.project(t, p.ID).Data.Studio.Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, types.RoleModel, msgs[1].Role)
	assert.Equal(t, "hi there", msgs[1].Text)

	call := client.lastCall(t)
	require.Len(t, call.History, 1, "outbound history carries the transcript including the new turn")
	assert.Equal(t, "hello", call.History[0].Text)
	assert.Equal(t, types.DefaultModel, call.Settings.Model)
}

func TestSendMessageFailureFlagsReply(t *testing.T) {
	client := &fakeClient{err: gateway.ErrTransport}
	e, _ := newEngine(t, client)

	p, _ := e.Repository().CreateProject("Demo", "")
	require.NoError(t, e.Open(p.ID, types.SectionStudio))

	err := e.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, gateway.ErrTransport)

	snap, _ := e.Snapshot()
	msgs := snap.(types.StudioSection).Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.True(t, msgs[1].Error, "the failed turn is recorded as an error-flagged message")
}

func TestErrorFlaggedMessagesStayLocal(t *testing.T) {
	client := &fakeClient{err: gateway.ErrTransport}
	e, _ := newEngine(t, client)

	p, _ := e.Repository().CreateProject("Demo", "")
	require.NoError(t, e.Open(p.ID, types.SectionStudio))

	_ = e.SendMessage(context.Background(), "first")
	client.err = nil
	client.resp = gateway.Response{Text: "recovered"}
	require.NoError(t, e.SendMessage(context.Background(), "second"))

	// The transcript keeps the error entry, the outbound history does
	// not resend it; filtering happens at the gateway seam.
	snap, _ := e.Snapshot()
	require.Len(t, snap.(types.StudioSection).Messages, 4)
	history := client.lastCall(t).History
	require.Len(t, history, 3)
	assert.True(t, history[1].Error, "history is passed verbatim, the gateway drops flagged turns")
}

func TestClearTranscript(t *testing.T) {
	client := &fakeClient{resp: gateway.Response{Text: "hi"}}
	e, ms := newEngine(t, client)

	p, _ := e.Repository().CreateProject("Demo", "")
	require.NoError(t, e.Open(p.ID, types.SectionStudio))
	require.NoError(t, e.SendMessage(context.Background(), "hello"))

	require.NoError(t, e.ClearTranscript())
	assert.Empty(t, ms.project(t, p.ID).Data.Studio.Messages)
}

func TestEditRejectsInvalidSettingsSynchronously(t *testing.T) {
	client := &fakeClient{}
	e, _ := newEngine(t, client)

	p, _ := e.Repository().CreateProject("Demo", "")
	other, _ := e.Repository().CreateProject("Other", "")
	require.NoError(t, e.Open(p.ID, types.SectionStudio))

	bad := p.Data.Studio
	bad.Settings.Temperature = 5
	require.Error(t, e.Edit(bad), "the caller must hear about the bad value immediately")

	// Nothing was queued, so switching away stays clean.
	settle()
	stored, err := e.Repository().Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Data.Studio.Settings, stored.Data.Studio.Settings)
	require.NoError(t, e.Open(other.ID, types.SectionReview), "a rejected edit must not poison the next switch")
}

func TestSwitchToolFlushesPendingEdit(t *testing.T) {
	client := &fakeClient{}
	e, _ := newEngine(t, client)

	p, _ := e.Repository().CreateProject("Demo", "")
	require.NoError(t, e.Open(p.ID, types.SectionReview))

	review := p.Data.Review
	review.Code = "pending"
	require.NoError(t, e.Edit(review))
	require.NoError(t, e.SwitchTool(types.SectionStudio))

	stored, err := e.Repository().Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", stored.Data.Review.Code, "switching tools must not lose the pending edit")
	assert.Equal(t, types.SectionStudio, e.ActiveTool())
}

func TestDeleteActiveProjectDropsPendingCommit(t *testing.T) {
	client := &fakeClient{}
	e, _ := newEngine(t, client)

	p, _ := e.Repository().CreateProject("Demo", "")
	require.NoError(t, e.Open(p.ID, types.SectionReview))

	review := p.Data.Review
	review.Code = "doomed"
	require.NoError(t, e.Edit(review))
	require.NoError(t, e.DeleteProject(p.ID))

	settle()
	_, err := e.Repository().Get(p.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, e.ActiveProject())
}

func TestOperationsRequireOpenProject(t *testing.T) {
	e, _ := newEngine(t, &fakeClient{})

	assert.ErrorIs(t, e.Edit(types.ReviewSection{}), ErrNoActiveProject)
	assert.ErrorIs(t, e.RunAction(context.Background(), "review"), ErrNoActiveProject)
	assert.ErrorIs(t, e.SendMessage(context.Background(), "x"), ErrNoActiveProject)
	_, err := e.Snapshot()
	assert.ErrorIs(t, err, ErrNoActiveProject)
}

func TestSendMessageNeedsStudioTool(t *testing.T) {
	e, _ := newEngine(t, &fakeClient{})
	p, _ := e.Repository().CreateProject("Demo", "")
	require.NoError(t, e.Open(p.ID, types.SectionReview))

	err := e.SendMessage(context.Background(), "hello")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoActiveProject)
}

func TestOpenUnknownProjectFails(t *testing.T) {
	e, _ := newEngine(t, &fakeClient{})
	err := e.Open("missing", types.SectionReview)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
