package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	m := NewManager(4, nil)
	ch := m.Subscribe("wf-1")
	defer m.Unsubscribe("wf-1", ch)

	m.Publish(Event{WorkflowID: "wf-1", Type: "TASK_COMPLETED", TaskID: "t1"})

	select {
	case evt := <-ch:
		assert.Equal(t, "wf-1", evt.WorkflowID)
		assert.Equal(t, "t1", evt.TaskID)
		assert.Equal(t, uint64(1), evt.Seq)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSequenceNumbersAreMonotonicPerWorkflow(t *testing.T) {
	m := NewManager(4, nil)
	ch := m.Subscribe("wf-2")
	defer m.Unsubscribe("wf-2", ch)

	m.Publish(Event{WorkflowID: "wf-2", Type: "TASK_STARTED"})
	m.Publish(Event{WorkflowID: "wf-2", Type: "TASK_COMPLETED"})

	first := <-ch
	second := <-ch
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	m := NewManager(1, nil)
	ch := m.Subscribe("wf-3")
	defer m.Unsubscribe("wf-3", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			m.Publish(Event{WorkflowID: "wf-3", Type: "TASK_STARTED"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewManager(4, nil)
	ch := m.Subscribe("wf-4")
	m.Unsubscribe("wf-4", ch)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestPublishToWorkflowWithNoSubscribersIsANoop(t *testing.T) {
	m := NewManager(4, nil)
	require.NotPanics(t, func() {
		m.Publish(Event{WorkflowID: "nobody-listening", Type: "TASK_STARTED"})
	})
}

func TestUnsubscribeAllClosesEverySubscriber(t *testing.T) {
	m := NewManager(4, nil)
	ch1 := m.Subscribe("wf-5")
	ch2 := m.Subscribe("wf-5")

	m.UnsubscribeAll("wf-5")

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
}
