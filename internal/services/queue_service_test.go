package services

import (
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpreston/gatekeeper/internal/models"
)

// mockLoginEvent implements models.LoginEvent for tests
type mockLoginEvent struct {
	remoteAddr    string
	closed        bool
	released      bool
	releasedName  string
	rejected      bool
	rejectMessage string
	releaseErr    error
}

func newMockLoginEvent(addr string) *mockLoginEvent {
	return &mockLoginEvent{remoteAddr: addr}
}

func (m *mockLoginEvent) RemoteAddr() string { return m.remoteAddr }

func (m *mockLoginEvent) Release(name string) error {
	if m.releaseErr != nil {
		return m.releaseErr
	}
	m.released = true
	m.releasedName = name
	return nil
}

func (m *mockLoginEvent) Reject(message string) {
	m.rejected = true
	m.rejectMessage = message
	m.closed = true
}

func (m *mockLoginEvent) Closed() bool { return m.closed }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func attemptFor(name, addr string) models.Attempt {
	return models.Attempt{Name: name, Event: newMockLoginEvent(addr)}
}

func TestQueueService_RejectsWhenFull(t *testing.T) {
	q := NewQueueService(2, testLogger())

	_, err := q.Enqueue(attemptFor("a", "10.0.0.1:1"))
	require.NoError(t, err)
	_, err = q.Enqueue(attemptFor("b", "10.0.0.2:1"))
	require.NoError(t, err)

	_, err = q.Enqueue(attemptFor("c", "10.0.0.3:1"))
	assert.ErrorIs(t, err, models.ErrQueueFull)
	assert.Equal(t, 2, q.Depth())
}

func TestQueueService_DrainIsFIFOAndBounded(t *testing.T) {
	q := NewQueueService(10, testLogger())

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(attemptFor(fmt.Sprintf("player%d", i), "10.0.0.1:1"))
		require.NoError(t, err)
	}

	first := q.Drain(2)
	require.Len(t, first, 2)
	assert.Equal(t, "player0", first[0].Name)
	assert.Equal(t, "player1", first[1].Name)

	second := q.Drain(2)
	require.Len(t, second, 2)
	assert.Equal(t, "player2", second[0].Name)
	assert.Equal(t, "player3", second[1].Name)

	assert.Equal(t, 1, q.Depth())
}

func TestQueueService_SequenceIDsAreUniqueAndIncreasing(t *testing.T) {
	q := NewQueueService(10, testLogger())

	a, err := q.Enqueue(attemptFor("a", "10.0.0.1:1"))
	require.NoError(t, err)
	b, err := q.Enqueue(attemptFor("b", "10.0.0.1:1"))
	require.NoError(t, err)

	assert.Greater(t, b.Seq, a.Seq)
}

func TestQueueService_DrainSkipsClosedConnections(t *testing.T) {
	q := NewQueueService(10, testLogger())

	open1 := newMockLoginEvent("10.0.0.1:1")
	gone := newMockLoginEvent("10.0.0.2:1")
	open2 := newMockLoginEvent("10.0.0.3:1")

	_, err := q.Enqueue(models.Attempt{Name: "open1", Event: open1})
	require.NoError(t, err)
	_, err = q.Enqueue(models.Attempt{Name: "gone", Event: gone})
	require.NoError(t, err)
	_, err = q.Enqueue(models.Attempt{Name: "open2", Event: open2})
	require.NoError(t, err)

	gone.closed = true

	released := q.Drain(10)
	require.Len(t, released, 2)
	assert.Equal(t, "open1", released[0].Name)
	assert.Equal(t, "open2", released[1].Name)
	assert.Equal(t, 0, q.Depth())
}

func TestQueueService_DrainZeroReturnsNothing(t *testing.T) {
	q := NewQueueService(10, testLogger())
	_, err := q.Enqueue(attemptFor("a", "10.0.0.1:1"))
	require.NoError(t, err)

	assert.Empty(t, q.Drain(0))
	assert.Equal(t, 1, q.Depth())
}
