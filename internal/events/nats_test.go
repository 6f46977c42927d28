package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedMsg struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu   sync.Mutex
	msgs []recordedMsg
	err  error
}

func (c *fakeConn) Publish(subj string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, recordedMsg{subject: subj, data: data})
	return nil
}

func (c *fakeConn) messages() []recordedMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recordedMsg(nil), c.msgs...)
}

func TestNATSForwarder_Subject(t *testing.T) {
	f := NewNATSForwarder(&fakeConn{}, "", nil)
	assert.Equal(t, "taskforce.task.status", f.Subject(TaskStatusEvent{}))

	f = NewNATSForwarder(&fakeConn{}, "acme", nil)
	assert.Equal(t, "acme.workflow.phase", f.Subject(WorkflowPhaseEvent{}))
}

func TestNATSForwarder_ForwardEnvelope(t *testing.T) {
	conn := &fakeConn{}
	f := NewNATSForwarder(conn, "tf", nil)

	err := f.Forward(TaskQueuedEvent{ID: "t1", WorkerID: "w1", Position: 2})
	require.NoError(t, err)

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tf.task.queued", msgs[0].subject)

	var env Envelope
	require.NoError(t, json.Unmarshal(msgs[0].data, &env))
	assert.Equal(t, EventTypeTaskQueued, env.Type)
	assert.Equal(t, "t1", env.TaskID)

	var payload TaskQueuedEvent
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, 2, payload.Position)
	assert.Equal(t, "w1", payload.WorkerID)
}

func TestNATSForwarder_PublishError(t *testing.T) {
	f := NewNATSForwarder(&fakeConn{err: errors.New("disconnected")}, "tf", nil)
	err := f.Forward(AgentStatusEvent{WorkerID: "w1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tf.agent.status")
}

func TestNATSForwarder_RunStopsOnClose(t *testing.T) {
	conn := &fakeConn{}
	f := NewNATSForwarder(conn, "tf", nil)
	bus := NewEventBus()
	sub := bus.SubscribeAll(10)

	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), sub)
		close(done)
	}()

	bus.Publish(TopicTaskStatus, TaskStatusEvent{ID: "t1"})
	require.Eventually(t, func() bool { return len(conn.messages()) == 1 }, time.Second, 5*time.Millisecond)

	bus.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after bus close")
	}
}
