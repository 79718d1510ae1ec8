package middleware_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/agentcore/message"
	"goa.design/agentcore/model"
	"goa.design/agentcore/model/middleware"
)

type stubClient struct {
	completeErr error
	calls       int
}

func (s *stubClient) Complete(ctx context.Context, req model.Request) (message.Message, message.Usage, error) {
	s.calls++
	if s.completeErr != nil {
		return message.Message{}, message.Usage{}, s.completeErr
	}
	return message.Assistant("ok"), message.Usage{}, nil
}

func (s *stubClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, nil
}

func TestAdaptiveRateLimiterBacksOffOnRateLimit(t *testing.T) {
	lim := middleware.NewAdaptiveRateLimiter(6000, 6000)
	stub := &stubClient{completeErr: model.NewRateLimited("")}
	client := lim.Middleware()(stub)

	req := model.Request{Model: "m", Messages: []message.Message{message.User("hi")}}
	_, _, err := client.Complete(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, 1, stub.calls)
}

func TestAdaptiveRateLimiterPassesThroughOnSuccess(t *testing.T) {
	lim := middleware.NewAdaptiveRateLimiter(6000, 6000)
	stub := &stubClient{}
	client := lim.Middleware()(stub)

	req := model.Request{Model: "m", Messages: []message.Message{message.User("hi")}}
	msg, _, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "ok", msg.Content)
}

func TestAdaptiveRateLimiterNilNextReturnsNil(t *testing.T) {
	lim := middleware.NewAdaptiveRateLimiter(1000, 1000)
	require.Nil(t, lim.Middleware()(nil))
}
