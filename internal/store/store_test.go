package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryosukesatoh/paperwatch/internal/config"
)

func TestSetJSONIsSortedArray(t *testing.T) {
	data, err := json.Marshal(NewSet("arxiv:2", "arxiv:1", "iop:x"))
	require.NoError(t, err)
	assert.JSONEq(t, `["arxiv:1","arxiv:2","iop:x"]`, string(data))

	var s Set
	require.NoError(t, json.Unmarshal([]byte(`["a","b","a"]`), &s))
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has("a"))
}

func TestSetCloneIsIndependent(t *testing.T) {
	s := NewSet("a")
	c := s.Clone()
	c.Add("b")
	assert.False(t, s.Has("b"))
	assert.Equal(t, []string{"a", "b"}, c.Sorted())
}

func TestJSONFileStoreMissingFile(t *testing.T) {
	s := NewJSONFileStore(filepath.Join(t.TempDir(), "none.json"))
	ids, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Equal(t, 0, ids.Len())
}

func TestJSONFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "sent.json")
	s := NewJSONFileStore(path)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, NewSet("arxiv:2501.00002", "arxiv:2501.00001")))
	require.NoError(t, s.Save(ctx, NewSet("arxiv:2501.00003")))

	ids, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"arxiv:2501.00003"}, ids.Sorted(), "save overwrites the whole file")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestJSONFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	ids, err := NewJSONFileStore(path).Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
	assert.NotNil(t, ids)
	assert.Equal(t, 0, ids.Len())
}

func TestSQLiteStoreMonotonic(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "seen.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, NewSet("arxiv:1", "arxiv:2")))
	require.NoError(t, s.Save(ctx, NewSet("arxiv:2", "iop:10.1088/x")))

	ids, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"arxiv:1", "arxiv:2", "iop:10.1088/x"}, ids.Sorted())
}

func TestRedisStoreLoad(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := newRedisStore(db, "seen")
	ctx := context.TODO()

	mock.ExpectSMembers("seen").SetVal([]string{"arxiv:1", "arxiv:2"})
	ids, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"arxiv:1", "arxiv:2"}, ids.Sorted())

	mock.ExpectSMembers("seen").SetErr(errors.New("redis error"))
	ids, err = s.Load(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis smembers failure")
	assert.Equal(t, 0, ids.Len())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRedisStoreSave(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := newRedisStore(db, "seen")
	ctx := context.TODO()

	mock.ExpectSAdd("seen", "arxiv:1", "arxiv:2").SetVal(2)
	assert.NoError(t, s.Save(ctx, NewSet("arxiv:2", "arxiv:1")))

	// An empty set issues no command.
	assert.NoError(t, s.Save(ctx, NewSet()))

	mock.ExpectSAdd("seen", "arxiv:3").SetErr(errors.New("redis error"))
	err := s.Save(ctx, NewSet("arxiv:3"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis sadd failure")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "a.json")})
	require.NoError(t, err)
	assert.IsType(t, &JSONFileStore{}, s)

	s, err = New(config.StoreConfig{Type: "sqlite", Path: filepath.Join(dir, "a.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = New(config.StoreConfig{Type: "etcd"})
	assert.Error(t, err)
}
