package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	return client, srv
}

func TestPublishSendsJSONWithKind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "pipeline")
	require.NoError(t, err)

	pub, err := Dial(ctx, client, "pipeline")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(ctx, "link.tombstoned", map[string]any{"dedupe_key": "k", "status": 404})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"dedupe_key":"k","status":404}`, string(msgs[0].Data))
	require.Equal(t, "link.tombstoned", msgs[0].Attributes[KindAttribute])
}

func TestDialRequiresExistingTopic(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	t.Cleanup(func() { _ = client.Close() })

	_, err := Dial(context.Background(), client, "missing")
	require.ErrorContains(t, err, "does not exist")

	_, err = Dial(context.Background(), client, "")
	require.Error(t, err)
	_, err = Dial(context.Background(), nil, "x")
	require.Error(t, err)
}

func TestNilPublisher(t *testing.T) {
	t.Parallel()

	var p *Publisher
	_, err := p.Publish(context.Background(), "x", nil)
	require.Error(t, err)
	require.NoError(t, p.Close())
}
