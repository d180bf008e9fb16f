package session

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/spinboard/internal/cache"
)

func openTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(cache.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

type failingStore struct{}

func (failingStore) LoadSession() (cache.SessionRecord, bool) { return cache.SessionRecord{}, false }
func (failingStore) SaveSession(cache.SessionRecord) error    { return errors.New("disk full") }
func (failingStore) ClearSession() error                      { return errors.New("disk full") }

func TestFreshSessionIsUnbound(t *testing.T) {
	s := Load(openTestCache(t))

	_, err := uuid.Parse(s.ID())
	assert.NoError(t, err)
	_, ok := s.Handle()
	assert.False(t, ok)
}

func TestBindPersists(t *testing.T) {
	c := openTestCache(t)
	s := Load(c)
	require.NoError(t, s.Bind("Rex_01"))

	restored := Load(c)
	h, ok := restored.Handle()
	require.True(t, ok)
	assert.Equal(t, "Rex_01", h)
	assert.Equal(t, s.ID(), restored.ID())
	assert.False(t, restored.BoundAt().IsZero())
}

func TestClearRotatesID(t *testing.T) {
	c := openTestCache(t)
	s := Load(c)
	require.NoError(t, s.Bind("Rex_01"))
	oldID := s.ID()

	require.NoError(t, s.Clear())
	_, ok := s.Handle()
	assert.False(t, ok)
	assert.NotEqual(t, oldID, s.ID())

	_, ok = Load(c).Handle()
	assert.False(t, ok)
}

func TestBindFailureLeavesStateUnchanged(t *testing.T) {
	s := Load(failingStore{})

	assert.Error(t, s.Bind("Rex_01"))
	_, ok := s.Handle()
	assert.False(t, ok)
}
