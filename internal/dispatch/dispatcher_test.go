package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvasek/meshbot/internal/builtin"
	"github.com/jvasek/meshbot/internal/command"
	"github.com/jvasek/meshbot/internal/config"
	"github.com/jvasek/meshbot/internal/log"
	"github.com/jvasek/meshbot/internal/mailbox"
	"github.com/jvasek/meshbot/internal/mesh"
	"github.com/jvasek/meshbot/internal/telemetry"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

const (
	aliceID = mesh.NodeID("!0000a11c")
	bobID   = mesh.NodeID("!00000b0b")
)

type harness struct {
	fake    *mesh.Fake
	box     *mailbox.Store
	reg     *command.Registry
	tracker *telemetry.Tracker
	done    chan error
	cancel  context.CancelFunc
}

func startDispatcher(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Defaults()
	cfg.HandlerTimeout = 500 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	fake := mesh.NewFake()
	fake.SetNodes([]mesh.NodeInfo{
		{ID: aliceID, ShortName: "AL", LongName: "Alice Base", LastSeen: time.Now()},
		{ID: bobID, ShortName: "BOB", LongName: "Bob Mobile", LastSeen: time.Now()},
	})

	box, err := mailbox.Open(filepath.Join(t.TempDir(), "mailbox.jsonl"), mailbox.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { box.Close() })

	tracker := telemetry.New()
	reg := command.NewRegistry()
	require.NoError(t, builtin.RegisterAll(reg, builtin.Options{Prefix: cfg.CommandPrefix}))

	env := &command.Env{
		Mailbox:      box,
		Telemetry:    tracker,
		Mesh:         fake,
		Logger:       log.WithComponent("test"),
		ChannelIndex: cfg.ChannelIndex,
		MaxReplyLen:  cfg.MaxReplyLen,
	}

	d := New(cfg, reg, env)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(cancel)

	return &harness{fake: fake, box: box, reg: reg, tracker: tracker, done: done, cancel: cancel}
}

func packet(from mesh.NodeID, channel int, text string) mesh.Packet {
	return mesh.Packet{From: from, Channel: channel, Text: text, ReceivedAt: time.Now()}
}

// waitSent blocks until at least n sends have been recorded.
func waitSent(t *testing.T, fake *mesh.Fake, n int) []mesh.SentText {
	t.Helper()
	require.Eventually(t, func() bool { return len(fake.Sent()) >= n },
		2*time.Second, 10*time.Millisecond)
	return fake.Sent()
}

func TestOffChannelPacketIgnored(t *testing.T) {
	h := startDispatcher(t, nil)

	h.fake.Inject(packet(aliceID, 2, "!msg BOB off channel"))
	h.fake.Inject(packet(aliceID, 1, "!ping"))

	sent := waitSent(t, h.fake, 1)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "pong")
	assert.Equal(t, 0, h.box.Pending(bobID))
}

func TestNonCommandChatterIgnored(t *testing.T) {
	h := startDispatcher(t, nil)

	h.fake.Inject(packet(aliceID, 1, "just chatting, no prefix"))
	h.fake.Inject(packet(aliceID, 1, "!ping"))

	sent := waitSent(t, h.fake, 1)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "pong")
}

func TestUnknownCommandReply(t *testing.T) {
	h := startDispatcher(t, nil)

	h.fake.Inject(packet(aliceID, 1, "!frobnicate now"))

	sent := waitSent(t, h.fake, 1)
	assert.Equal(t, "Unknown command 'frobnicate'. Try !help", sent[0].Text)
	assert.Equal(t, 1, sent[0].Channel)
}

func TestCommandNameCaseInsensitive(t *testing.T) {
	h := startDispatcher(t, nil)

	h.fake.Inject(packet(aliceID, 1, "!PING"))

	sent := waitSent(t, h.fake, 1)
	assert.Contains(t, sent[0].Text, "pong")
}

func TestMsgInboxScenario(t *testing.T) {
	h := startDispatcher(t, nil)

	h.fake.Inject(packet(aliceID, 1, "!msg BOB hi there"))
	sent := waitSent(t, h.fake, 1)
	assert.Contains(t, sent[0].Text, "Saved for")
	assert.Equal(t, 1, h.box.Pending(bobID))

	h.fake.Inject(packet(bobID, 1, "!inbox"))
	sent = waitSent(t, h.fake, 2)
	assert.Contains(t, sent[1].Text, "hi there")
	assert.Contains(t, sent[1].Text, "AL")
	assert.Equal(t, 0, h.box.Pending(bobID))

	h.fake.Inject(packet(bobID, 1, "!inbox"))
	sent = waitSent(t, h.fake, 3)
	assert.Contains(t, sent[2].Text, "empty")
}

func TestDeliverOnActivity(t *testing.T) {
	h := startDispatcher(t, nil)

	_, err := h.box.Put(aliceID, "AL", bobID, "call me back")
	require.NoError(t, err)

	// Plain chatter from the recipient triggers the push.
	h.fake.Inject(packet(bobID, 1, "good morning mesh"))

	sent := waitSent(t, h.fake, 1)
	assert.Contains(t, sent[0].Text, "📮")
	assert.Contains(t, sent[0].Text, "call me back")
	assert.Equal(t, 0, h.box.Pending(bobID))
}

func TestDeliverOnActivityDisabled(t *testing.T) {
	h := startDispatcher(t, func(cfg *config.Config) {
		off := false
		cfg.Mailbox.DeliverOnActivity = &off
	})

	_, err := h.box.Put(aliceID, "AL", bobID, "call me back")
	require.NoError(t, err)

	h.fake.Inject(packet(bobID, 1, "good morning mesh"))
	h.fake.Inject(packet(bobID, 1, "!ping"))

	sent := waitSent(t, h.fake, 1)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "pong")
	assert.Equal(t, 1, h.box.Pending(bobID))
}

func TestHandlerTimeout(t *testing.T) {
	h := startDispatcher(t, func(cfg *config.Config) {
		cfg.HandlerTimeout = 50 * time.Millisecond
	})
	require.NoError(t, h.reg.Register(command.Descriptor{
		Name:   "slow",
		Help:   "Sleeps past the budget",
		Source: command.SourcePlugin,
		Handler: command.HandlerFunc(func(ctx context.Context, env *command.Env, inv *command.Invocation) (string, error) {
			time.Sleep(2 * time.Second)
			return "too late", nil
		}),
	}))

	h.fake.Inject(packet(aliceID, 1, "!slow"))

	sent := waitSent(t, h.fake, 1)
	assert.Equal(t, replyTimeout, sent[0].Text)
}

func TestHandlerPanicRecovered(t *testing.T) {
	h := startDispatcher(t, nil)
	require.NoError(t, h.reg.Register(command.Descriptor{
		Name:   "crash",
		Help:   "Panics on purpose",
		Source: command.SourcePlugin,
		Handler: command.HandlerFunc(func(ctx context.Context, env *command.Env, inv *command.Invocation) (string, error) {
			panic("boom")
		}),
	}))

	h.fake.Inject(packet(aliceID, 1, "!crash"))
	sent := waitSent(t, h.fake, 1)
	assert.Equal(t, replyFailed, sent[0].Text)

	// The loop survives and keeps serving.
	h.fake.Inject(packet(aliceID, 1, "!ping"))
	sent = waitSent(t, h.fake, 2)
	assert.Contains(t, sent[1].Text, "pong")
}

func TestHandlerErrorReply(t *testing.T) {
	h := startDispatcher(t, nil)
	require.NoError(t, h.reg.Register(command.Descriptor{
		Name:   "fail",
		Help:   "Always errors",
		Source: command.SourcePlugin,
		Handler: command.HandlerFunc(func(ctx context.Context, env *command.Env, inv *command.Invocation) (string, error) {
			return "", fmt.Errorf("downstream exploded")
		}),
	}))

	h.fake.Inject(packet(aliceID, 1, "!fail"))

	sent := waitSent(t, h.fake, 1)
	assert.Equal(t, replyFailed, sent[0].Text)
	assert.NotContains(t, sent[0].Text, "downstream")
}

func TestReplyTruncatedToBudget(t *testing.T) {
	h := startDispatcher(t, func(cfg *config.Config) {
		cfg.MaxReplyLen = 32
	})
	require.NoError(t, h.reg.Register(command.Descriptor{
		Name:   "long",
		Help:   "Replies past the budget",
		Source: command.SourcePlugin,
		Handler: command.HandlerFunc(func(ctx context.Context, env *command.Env, inv *command.Invocation) (string, error) {
			return strings.Repeat("x", 100), nil
		}),
	}))

	h.fake.Inject(packet(aliceID, 1, "!long"))

	sent := waitSent(t, h.fake, 1)
	assert.LessOrEqual(t, len(sent[0].Text), 32)
	assert.True(t, strings.HasSuffix(sent[0].Text, "…"))
}

func TestStatsFeedTelemetry(t *testing.T) {
	h := startDispatcher(t, nil)

	h.fake.InjectStats(mesh.Stats{TxAirtimePct: 3.5, RxAirtimePct: 1.25, ChannelUtilPct: 12, SampledAt: time.Now()})

	require.Eventually(t, func() bool { return h.tracker.Snapshot().HasSample },
		2*time.Second, 10*time.Millisecond)
	snap := h.tracker.Snapshot()
	assert.Equal(t, 3.5, snap.TxAirtimePct)
	assert.Equal(t, 12.0, snap.ChannelUtilPct)
}

func TestTransportLossStopsRun(t *testing.T) {
	h := startDispatcher(t, nil)

	h.fake.SetErr(io.ErrUnexpectedEOF)
	h.fake.Close()

	select {
	case err := <-h.done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport lost")
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after transport loss")
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 220))
	out := Truncate(strings.Repeat("a", 300), 220)
	assert.LessOrEqual(t, len(out), 220)
	assert.True(t, strings.HasSuffix(out, "…"))

	// Never split a multibyte rune at the cut point.
	out = Truncate(strings.Repeat("é", 100), 21)
	assert.LessOrEqual(t, len(out), 21)
	for _, r := range out {
		assert.NotEqual(t, '�', r)
	}
}
