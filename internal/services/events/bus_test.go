package events

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Handle(_ context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestBus_DeliversInOrderToAllSinks(t *testing.T) {
	bus := NewBus(testLogger(), 8)
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("sink down")}
	bus.AddSink(a)
	bus.AddSink(b)

	done := make(chan struct{})
	go func() {
		bus.Run(context.Background())
		close(done)
	}()

	bus.Publish(models.NewEvent(models.EventInfo, models.CodeSyncStarted))
	bus.Publish(models.NewEvent(models.EventSuccess, models.CodeSyncCompleted, "uploaded", "2"))
	bus.Close()
	<-done

	require.Len(t, a.events, 2)
	assert.Equal(t, models.CodeSyncStarted, a.events[0].Code)
	assert.Equal(t, "2", a.events[1].Context["uploaded"])
	assert.Len(t, b.events, 2, "a failing sink still receives later events")
}

func TestBus_DropsWhenFullAndAfterClose(t *testing.T) {
	bus := NewBus(testLogger(), 1)
	sink := &recordingSink{}
	bus.AddSink(sink)

	bus.Publish(models.NewEvent(models.EventInfo, "first"))
	bus.Publish(models.NewEvent(models.EventInfo, "dropped"))
	bus.Close()
	bus.Publish(models.NewEvent(models.EventInfo, "after-close"))
	bus.Close()

	bus.Run(context.Background())

	require.Len(t, sink.events, 1)
	assert.Equal(t, "first", sink.events[0].Code)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	err := sink.Handle(context.Background(), models.NewEvent(models.EventError, models.CodeSyncFailed, "game", "Foo"))

	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"code":"sync.failed"`)
	assert.Contains(t, buf.String(), `"game":"Foo"`)
}
