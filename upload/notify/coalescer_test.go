package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu        sync.Mutex
	delivered []Notification
}

func (s *recordingSink) Notify(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, n)
	return nil
}

func (s *recordingSink) all() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification{}, s.delivered...)
}

func newTestCoalescer() (*Coalescer, *recordingSink, *clockwork.FakeClock) {
	sink := &recordingSink{}
	clock := clockwork.NewFakeClock()
	return NewCoalescer(sink, log.NewLogger(), clock), sink, clock
}

func TestCoalescer_LoadingReplacesPendingLoadingForSameTask(t *testing.T) {
	c, _, _ := newTestCoalescer()

	c.Publish(Notification{TaskID: "t1", Type: TypeLoading, Title: "Uploading", Message: "0%"})
	c.Publish(Notification{TaskID: "t1", Type: TypeLoading, Title: "Uploading", Message: "40%"})
	c.Publish(Notification{TaskID: "t1", Type: TypeLoading, Title: "Uploading", Message: "80%"})

	require.Equal(t, 1, c.PendingCount())

	c.mu.Lock()
	assert.Equal(t, "80%", c.queue[0].Message)
	c.mu.Unlock()
}

func TestCoalescer_LoadingEntriesForDifferentTasksCoexist(t *testing.T) {
	c, _, _ := newTestCoalescer()

	c.Publish(Notification{TaskID: "t1", Type: TypeLoading, Title: "Uploading a"})
	c.Publish(Notification{TaskID: "t2", Type: TypeLoading, Title: "Uploading b"})

	assert.Equal(t, 2, c.PendingCount())
}

func TestCoalescer_TerminalCancelsPendingLoading(t *testing.T) {
	c, _, _ := newTestCoalescer()

	c.Publish(Notification{TaskID: "t1", Type: TypeLoading, Title: "Uploading", Message: "40%"})
	c.Publish(Notification{TaskID: "t1", Type: TypeSuccess, Title: "Uploaded", Message: "done"})

	require.Equal(t, 1, c.PendingCount())
	c.mu.Lock()
	assert.Equal(t, TypeSuccess, c.queue[0].Type)
	c.mu.Unlock()
}

func TestCoalescer_ExactDuplicatesCollapse(t *testing.T) {
	c, _, _ := newTestCoalescer()

	n := Notification{TaskID: "t1", Type: TypeError, Title: "Upload failed", Message: "HTTP 500"}
	c.Publish(n)
	c.Publish(n)

	assert.Equal(t, 1, c.PendingCount())
}

func TestCoalescer_QueueEvictsOldestWhenFull(t *testing.T) {
	c, _, _ := newTestCoalescer()
	c.MaxQueueLength = 3

	for i := 0; i < 5; i++ {
		c.Publish(Notification{TaskID: fmt.Sprintf("t%d", i), Type: TypeError, Title: fmt.Sprintf("failure %d", i)})
	}

	require.Equal(t, 3, c.PendingCount())
	c.mu.Lock()
	assert.Equal(t, "failure 2", c.queue[0].Title)
	c.mu.Unlock()
}

func TestCoalescer_DispatchPacing(t *testing.T) {
	c, sink, clock := newTestCoalescer()

	c.Publish(Notification{TaskID: "t1", Type: TypeError, Title: "first"})
	c.Publish(Notification{TaskID: "t2", Type: TypeError, Title: "second"})

	// First dispatch goes out immediately, the second has to wait for MinSpacing.
	c.dispatchNext()
	require.Len(t, sink.all(), 1)

	c.dispatchNext()
	assert.Len(t, sink.all(), 1, "second dispatch must respect the minimum spacing")

	clock.Advance(c.MinSpacing)
	c.dispatchNext()
	require.Len(t, sink.all(), 2)
	assert.Equal(t, "first", sink.all()[0].Title)
	assert.Equal(t, "second", sink.all()[1].Title)
}

func TestCoalescer_RunDrainsQueue(t *testing.T) {
	c, sink, clock := newTestCoalescer()

	c.Publish(Notification{TaskID: "t1", Type: TypeSuccess, Title: "done"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	clock.BlockUntil(1)
	clock.Advance(c.DrainInterval)

	assert.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
