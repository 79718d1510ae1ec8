package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/agent"
	"goa.design/agentcore/message"
	"goa.design/agentcore/model"
	"goa.design/agentcore/runner"
	"goa.design/agentcore/session"
	"goa.design/agentcore/supervisor"
	"goa.design/agentcore/telemetry/pubsub"
	"goa.design/agentcore/tool"
	"goa.design/agentcore/tool/executor"
)

type stubClient struct{}

func (c *stubClient) Complete(ctx context.Context, req model.Request) (message.Message, message.Usage, error) {
	return message.Assistant("ok"), message.Usage{}, nil
}

func (c *stubClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, nil
}

func newTestRunner(t *testing.T) *runner.Runner {
	t.Helper()
	models := model.NewRegistry()
	models.Register("stub", &stubClient{})
	return runner.New(models, executor.New(tool.NewRegistry()))
}

func TestSupervisorStartAndLookupSession(t *testing.T) {
	sup := supervisor.New()
	cfg := agent.Config{Name: "a", Model: "stub:x"}

	sess, err := sup.StartSession("s1", cfg, newTestRunner(t))
	require.NoError(t, err)
	require.NotNil(t, sess)

	found, ok := sup.Session("s1")
	require.True(t, ok)
	assert.Same(t, sess, found)
	assert.Equal(t, []string{"s1"}, sup.Sessions())
}

func TestSupervisorStartSessionDuplicateIDFails(t *testing.T) {
	sup := supervisor.New()
	cfg := agent.Config{Name: "a", Model: "stub:x"}

	_, err := sup.StartSession("s1", cfg, newTestRunner(t))
	require.NoError(t, err)
	_, err = sup.StartSession("s1", cfg, newTestRunner(t))
	assert.Error(t, err)
}

func TestSupervisorSendMessageUnknownSessionFails(t *testing.T) {
	sup := supervisor.New()
	err := sup.SendMessage(context.Background(), "missing", "hi")
	assert.Error(t, err)
}

func TestSupervisorSendMessageRunsSession(t *testing.T) {
	sup := supervisor.New()
	cfg := agent.Config{Name: "a", Model: "stub:x"}
	sess, err := sup.StartSession("s1", cfg, newTestRunner(t))
	require.NoError(t, err)

	require.NoError(t, sup.SendMessage(context.Background(), "s1", "hi"))
	require.Eventually(t, func() bool { return sess.Status() == session.StatusIdle }, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, sess.History())
}

func TestSupervisorEndRemovesSession(t *testing.T) {
	sup := supervisor.New()
	cfg := agent.Config{Name: "a", Model: "stub:x"}
	_, err := sup.StartSession("s1", cfg, newTestRunner(t))
	require.NoError(t, err)

	sup.End("s1")
	_, ok := sup.Session("s1")
	assert.False(t, ok)
}

func TestSupervisorRecoversPanicIntoAgentErrorEvent(t *testing.T) {
	bus := pubsub.NewBus()
	events := make(chan pubsub.Event, 1)
	_, err := bus.Register(pubsub.SubscriberFunc(func(ctx context.Context, ev pubsub.Event) error {
		if ev.Type() == pubsub.AgentError {
			events <- ev
		}
		return nil
	}))
	require.NoError(t, err)

	sup := supervisor.New(supervisor.WithBus(bus))
	cfg := agent.Config{Name: "a", Model: "stub:x"}
	models := model.NewRegistry()
	models.Register("stub", panicClient{})
	r := runner.New(models, executor.New(tool.NewRegistry()))

	_, err = sup.StartSession("panicking", cfg, r)
	require.NoError(t, err)
	require.NoError(t, sup.SendMessage(context.Background(), "panicking", "hi"))

	select {
	case ev := <-events:
		assert.Equal(t, pubsub.AgentError, ev.Type())
		assert.Equal(t, "panicking", ev.SessionID())
	case <-time.After(time.Second):
		t.Fatal("expected AgentErrorEvent after recovered panic")
	}
}

type panicClient struct{}

func (panicClient) Complete(ctx context.Context, req model.Request) (message.Message, message.Usage, error) {
	panic("boom")
}

func (panicClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, nil
}
