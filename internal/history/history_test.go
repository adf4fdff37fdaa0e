package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	s.Record("install", "version=1.21.6")
	s.Record("start", "")
	s.Record("crash", "exit_code=-9")

	events, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// newest first
	require.Equal(t, "crash", events[0].Kind)
	require.Equal(t, "exit_code=-9", events[0].Detail)
	require.Equal(t, "install", events[2].Kind)
	require.False(t, events[0].At.IsZero())
}

func TestRecentLimit(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	for i := 0; i < 10; i++ {
		s.Record("start", "")
	}
	events, err := s.Recent(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestOpenPersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	s, err := Open(path)
	require.NoError(t, err)
	s.Record("stop", "")
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	events, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "stop", events[0].Kind)
}
