package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type event struct {
	URLConfigID string `json:"urlConfigId"`
}

func (event) EventType() string { return "crawl.completed" }

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, "crawl-completed")
	require.NoError(t, err)
	return srv, client
}

func TestPublishSendsJSON(t *testing.T) {
	srv, client := newTestClient(t)
	pub := New(client)

	id, err := pub.Publish(context.Background(), "crawl-completed", event{URLConfigID: "cfg-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "crawl.completed", msgs[0].Attributes["event_type"])

	var got event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "cfg-1", got.URLConfigID)
}

func TestPublishErrors(t *testing.T) {
	_, client := newTestClient(t)
	pub := New(client)
	defer func() { _ = pub.Close() }()

	_, err := pub.Publish(context.Background(), "", event{})
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "crawl-completed", func() {})
	require.ErrorContains(t, err, "marshal payload")

	_, err = pub.Publish(context.Background(), "missing-topic", event{})
	require.Error(t, err)

	_, err = (&Publisher{}).Publish(context.Background(), "t", event{})
	require.ErrorContains(t, err, "not configured")
}

func TestOpenRequiresProject(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.Error(t, err)
}
