package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
	"github.com/JakeFAU/listing-diff-scraper/internal/pipeline"
)

type fakeRunner struct {
	mu        sync.Mutex
	calls     []crawler.SourceConfig
	deadlines []time.Time
	err       error
}

func (f *fakeRunner) Run(ctx context.Context, cfg crawler.SourceConfig) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cfg)
	deadline, _ := ctx.Deadline()
	f.deadlines = append(f.deadlines, deadline)
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	srv    *pstest.Server
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	msgID  string
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, runner Runner, payload string) *harness {
	t.Helper()
	return startWith(t, runner, payload, Config{MaxConcurrentRuns: 1})
}

func startWith(t *testing.T, runner Runner, payload string, cfg Config) *harness {
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

	topic, err := client.CreateTopic(ctx, "runs")
	require.NoError(t, err)
	t.Cleanup(topic.Stop)
	sub, err := client.CreateSubscription(ctx, "runs-sub", pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	})
	require.NoError(t, err)

	msgID, err := topic.Publish(ctx, &pubsub.Message{Data: []byte(payload)}).Get(ctx)
	require.NoError(t, err)

	recv, err := New(sub, runner, cfg, nil)
	require.NoError(t, err)

	rctx, cancel := context.WithCancel(ctx)
	h := &harness{srv: srv, topic: topic, sub: sub, msgID: msgID, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- recv.Start(rctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) acks() int {
	msg := h.srv.Message(h.msgID)
	if msg == nil {
		return 0
	}
	return msg.Acks
}

func TestReceiverRunsAndAcks(t *testing.T) {
	runner := &fakeRunner{}
	h := start(t, runner, `{"baseUrl":"https://shop.example.com/","currency":"GBP"}`)

	require.Eventually(t, func() bool { return h.acks() == 1 }, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, runner.callCount())
	require.Equal(t, "https://shop.example.com/", runner.calls[0].BaseURL)
	require.Equal(t, crawler.CurrencyGBP, runner.calls[0].Currency)
}

func TestReceiverAcksMalformedPayload(t *testing.T) {
	runner := &fakeRunner{}
	h := start(t, runner, `not json`)

	require.Eventually(t, func() bool { return h.acks() == 1 }, 5*time.Second, 20*time.Millisecond)
	require.Zero(t, runner.callCount())
}

func TestReceiverAcksInvalidSource(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("%w: base url is required", pipeline.ErrInvalidSource)}
	h := start(t, runner, `{}`)

	require.Eventually(t, func() bool { return h.acks() == 1 }, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, runner.callCount())
}

func TestReceiverNacksFatalRunError(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("%w: db down", pipeline.ErrSnapshotLookup)}
	h := start(t, runner, `{"baseUrl":"https://shop.example.com/"}`)

	require.Eventually(t, func() bool { return runner.callCount() >= 2 }, 5*time.Second, 20*time.Millisecond)
	require.Zero(t, h.acks())
}

func TestReceiverBoundsRunByMaxRunDuration(t *testing.T) {
	runner := &fakeRunner{}
	begin := time.Now()
	h := startWith(t, runner, `{"baseUrl":"https://shop.example.com/"}`, Config{MaxRunDuration: 2 * time.Hour})

	require.Eventually(t, func() bool { return h.acks() == 1 }, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, 2*time.Hour, h.sub.ReceiveSettings.MaxExtension)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.deadlines, 1)
	require.WithinRange(t, runner.deadlines[0], begin.Add(2*time.Hour), time.Now().Add(2*time.Hour))
}

func TestNewAppliesReceiveSettings(t *testing.T) {
	t.Parallel()

	sub := &pubsub.Subscription{}
	_, err := New(sub, &fakeRunner{}, Config{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, sub.ReceiveSettings.MaxOutstandingMessages)
	require.Equal(t, DefaultMaxRunDuration, sub.ReceiveSettings.MaxExtension)

	_, err = New(sub, &fakeRunner{}, Config{MaxConcurrentRuns: 3, MaxRunDuration: time.Hour}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, sub.ReceiveSettings.MaxOutstandingMessages)
	require.Equal(t, time.Hour, sub.ReceiveSettings.MaxExtension)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &fakeRunner{}, Config{}, nil)
	require.Error(t, err)
	_, err = New(&pubsub.Subscription{}, nil, Config{}, nil)
	require.True(t, err != nil && !errors.Is(err, pipeline.ErrInvalidSource))
}
