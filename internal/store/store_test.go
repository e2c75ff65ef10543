package store

import (
	"path/filepath"
	"testing"
	"time"

	"toolbench/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "workspace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleCollection() types.Collection {
	c := types.Collection{
		Projects: []types.Project{
			{
				ID:           "p1",
				Name:         "Demo",
				FolderID:     "f1",
				LastModified: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
				Data:         types.DefaultProjectData(),
			},
			{
				ID:           "p2",
				Name:         "Scratch",
				LastModified: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
				Data:         types.DefaultProjectData(),
			},
		},
		Folders: []types.Folder{{ID: "f1", Name: "Clients"}},
	}
	c.Projects[0].Data.Review.Code = "const x = 1;"
	c.Projects[0].Data.Studio.Messages = []types.Message{
		{Role: types.RoleUser, Text: "hello"},
		{Role: types.RoleModel, Text: "hi there"},
	}
	return c
}

func TestLoadEmptyDatabase(t *testing.T) {
	s := openTestStore(t)

	c, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, c.Projects)
	require.Empty(t, c.Folders)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	want := sampleCollection()

	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveReplacesPreviousRecord(t *testing.T) {
	s := openTestStore(t)

	first := sampleCollection()
	require.NoError(t, s.Save(first))

	second := types.Collection{
		Projects: []types.Project{{ID: "p3", Name: "Only", Data: types.DefaultProjectData()}},
	}
	require.NoError(t, s.Save(second))

	got, err := s.Load()
	require.NoError(t, err)
	require.Len(t, got.Projects, 1)
	require.Equal(t, "p3", got.Projects[0].ID)
	require.Empty(t, got.Folders)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.db")

	s, err := Open(path)
	require.NoError(t, err)
	want := sampleCollection()
	require.NoError(t, s.Save(want))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reopen mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveAfterCloseFails(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "workspace.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Save(sampleCollection())
	require.Error(t, err, "save on a closed database must surface a storage failure")
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "workspace.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(types.Collection{}))
}
