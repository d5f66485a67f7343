package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/runlog"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestPublish(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("docgraph.runs.code.*", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := New(Options{URL: server.ClientURL()}, logging.NewTestLogger().Logger)
	require.NoError(t, err)
	require.NotNil(t, p)
	defer p.Close()

	s := &runlog.Summary{
		RunID:     "r1",
		Corpus:    "code",
		StartedAt: time.Date(2024, 5, 17, 9, 0, 0, 0, time.UTC),
		Ingest:    &runlog.IngestStats{Total: 3, Processed: 3},
	}
	s.Finish(s.StartedAt.Add(time.Second), nil)
	require.NoError(t, p.Publish(context.Background(), s))

	select {
	case msg := <-msgs:
		assert.Equal(t, "docgraph.runs.code.completed", msg.Subject)
		var got runlog.Summary
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "r1", got.RunID)
		assert.Equal(t, 3, got.Processed())
	case <-time.After(5 * time.Second):
		t.Fatal("summary not received")
	}
}

func TestSubject(t *testing.T) {
	p := &Publisher{subject: "ops"}
	tests := []struct {
		name    string
		summary runlog.Summary
		want    string
	}{
		{"corpus and status", runlog.Summary{Corpus: "pages", Status: runlog.StatusFailed}, "ops.pages.failed"},
		{"defaults", runlog.Summary{}, "ops.default.unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Subject(&tt.summary))
		})
	}
}

func TestNilPublisher(t *testing.T) {
	p, err := New(Options{}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, p.Publish(context.Background(), &runlog.Summary{}))
	assert.NoError(t, p.Close())
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New(Options{URL: "nats://127.0.0.1:1", Timeout: 200 * time.Millisecond}, nil)
	assert.Error(t, err)
}
