package anthropic_test

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/message"
	"goa.design/agentcore/model"
	"goa.design/agentcore/model/anthropic"
)

type stubMessages struct {
	resp *sdk.Message
	err  error
}

func (s *stubMessages) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	return s.resp, s.err
}

func (s *stubMessages) NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	return nil
}

func TestCompleteRejectsMissingMaxTokens(t *testing.T) {
	client, err := anthropic.New(&stubMessages{}, anthropic.Options{})
	require.NoError(t, err)
	req := model.Request{Model: "claude-3-5-sonnet", Messages: []message.Message{message.User("hi")}}
	_, _, err = client.Complete(context.Background(), req)
	require.Error(t, err)
	var perr *model.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, model.KindBadRequest, perr.Kind)
}

func TestNewRequiresMessagesClient(t *testing.T) {
	_, err := anthropic.New(nil, anthropic.Options{})
	require.Error(t, err)
}
