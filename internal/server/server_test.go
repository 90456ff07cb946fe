package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saros-project/saros-sub040/internal/document"
	"github.com/saros-project/saros-sub040/internal/jupiter"
	"github.com/saros-project/saros-sub040/internal/op"
	"github.com/saros-project/saros-sub040/internal/queue"
)

func newTestServer(t *testing.T, text string) *Server {
	t.Helper()
	srv := New(text,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(NewFixedGenerator("session-1")),
	)
	t.Cleanup(srv.Close)
	return srv
}

func join(t *testing.T, srv *Server, id jupiter.ParticipantID) *jupiter.Client {
	t.Helper()
	text, err := srv.Join(id)
	require.NoError(t, err)
	return jupiter.NewClient(id, text)
}

func edit(t *testing.T, c *jupiter.Client, o op.Operation) jupiter.Request {
	t.Helper()
	req, err := c.Generate(o)
	require.NoError(t, err)
	return req
}

// deliver hands every queued message for c to c.
func deliver(t *testing.T, srv *Server, c *jupiter.Client) {
	t.Helper()
	for {
		msg, ok := srv.TryNextOutgoing(c.ID())
		if !ok {
			return
		}
		if msg.Resync {
			c.Reset(msg.Snapshot, msg.Epoch)
			continue
		}
		_, err := c.Receive(msg.Request)
		require.NoError(t, err)
	}
}

func TestServer_Converges(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, "core")
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	c := join(t, srv, "carol")

	// Three concurrent edits against "core".
	ra := edit(t, a, op.NewInsert(3, "f"))
	rb := edit(t, b, op.NewDelete(2, "r"))
	rc := edit(t, c, op.NewInsert(2, "f"))

	require.NoError(t, srv.AddRequest(ctx, ra))
	require.NoError(t, srv.AddRequest(ctx, rb))
	require.NoError(t, srv.AddRequest(ctx, rc))

	for _, cl := range []*jupiter.Client{a, b, c} {
		deliver(t, srv, cl)
	}

	assert.Equal(t, "coffe", srv.Text())
	for _, cl := range []*jupiter.Client{a, b, c} {
		assert.Equal(t, "coffe", cl.Text(), "client %s", cl.ID())
	}
}

func TestServer_ConvergesRegardlessOfArrivalOrder(t *testing.T) {
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	for _, order := range orders {
		srv := newTestServer(t, "core")
		clients := []*jupiter.Client{join(t, srv, "alice"), join(t, srv, "bob"), join(t, srv, "carol")}
		reqs := []jupiter.Request{
			edit(t, clients[0], op.NewInsert(3, "f")),
			edit(t, clients[1], op.NewDelete(2, "r")),
			edit(t, clients[2], op.NewInsert(2, "f")),
		}

		for _, i := range order {
			require.NoError(t, srv.AddRequest(context.Background(), reqs[i]))
		}
		for _, cl := range clients {
			deliver(t, srv, cl)
			assert.Equal(t, srv.Text(), cl.Text(), "order %v client %s", order, cl.ID())
		}
	}
}

func TestServer_JoinSnapshotsCurrentDocument(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, "core")
	a := join(t, srv, "alice")
	require.NoError(t, srv.AddRequest(ctx, edit(t, a, op.NewInsert(4, "s"))))

	late := join(t, srv, "dave")
	assert.Equal(t, "cores", late.Text())

	require.NoError(t, srv.AddRequest(ctx, edit(t, late, op.NewDelete(0, "c"))))
	deliver(t, srv, a)
	deliver(t, srv, late)

	assert.Equal(t, "ores", srv.Text())
	assert.Equal(t, "ores", a.Text())
	assert.Equal(t, "ores", late.Text())
}

func TestServer_ProxyLifecycleIdempotence(t *testing.T) {
	srv := newTestServer(t, "core")

	require.NoError(t, srv.AddProxyClient("alice"))
	assert.True(t, srv.IsExist("alice"))

	srv.RemoveProxyClient("alice")
	srv.Reset("alice")
	assert.False(t, srv.IsExist("alice"))

	srv.RemoveProxyClient("alice")
	srv.Reset("nobody")
	assert.Empty(t, srv.Participants())
}

func TestServer_DuplicateProxyKeepsRegistration(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, "core")
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")

	// Give bob's proxy non-zero generations.
	require.NoError(t, srv.AddRequest(ctx, edit(t, a, op.NewInsert(0, "x"))))
	require.NoError(t, srv.AddRequest(ctx, edit(t, b, op.NewInsert(4, "y"))))

	err := srv.AddProxyClient("bob")
	require.Error(t, err)
	assert.True(t, IsDuplicateProxy(err))
	assert.Equal(t, 1, srv.Pending("bob"), "pending messages must survive")

	// The original pairing still works.
	require.NoError(t, srv.AddRequest(ctx, edit(t, b, op.NewDelete(0, "c"))))
	deliver(t, srv, a)
	deliver(t, srv, b)
	assert.Equal(t, srv.Text(), a.Text())
	assert.Equal(t, srv.Text(), b.Text())
	assert.Equal(t, "xorey", srv.Text())
}

func TestServer_UnknownOriginDropped(t *testing.T) {
	srv := newTestServer(t, "core")
	a := join(t, srv, "alice")

	ghost := jupiter.NewClient("ghost", "core")
	require.NoError(t, srv.AddRequest(context.Background(), edit(t, ghost, op.NewInsert(0, "boo"))))

	assert.Equal(t, "core", srv.Text())
	assert.Equal(t, 0, srv.Pending(a.ID()))
}

func TestServer_CausalGapResetsOnlyOrigin(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, "core")
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	events := srv.Subscribe()

	require.NoError(t, srv.AddRequest(ctx, edit(t, a, op.NewInsert(4, "!"))))

	// A request that skips a generation.
	bad := jupiter.Request{Operation: op.NewInsert(0, "?"), Timestamp: jupiter.Timestamp{Local: 5}, Origin: "bob"}
	require.NoError(t, srv.AddRequest(ctx, bad))

	assert.Equal(t, "core!", srv.Text())
	assert.True(t, srv.IsExist("bob"))

	msg, ok := srv.TryNextOutgoing("bob")
	require.True(t, ok)
	assert.True(t, msg.Resync, "pending request replaced by resync")
	assert.Equal(t, "core!", msg.Snapshot)
	_, ok = srv.TryNextOutgoing("bob")
	assert.False(t, ok)
	assert.Equal(t, 1, msg.Epoch)
	b.Reset(msg.Snapshot, msg.Epoch)

	// Both pairings keep working.
	require.NoError(t, srv.AddRequest(ctx, edit(t, b, op.NewDelete(0, "c"))))
	require.NoError(t, srv.AddRequest(ctx, edit(t, a, op.NewInsert(0, ">"))))
	deliver(t, srv, a)
	deliver(t, srv, b)
	assert.Equal(t, ">ore!", srv.Text())
	assert.Equal(t, srv.Text(), a.Text())
	assert.Equal(t, srv.Text(), b.Text())

	var kinds []EventKind
	for _, ev := range events.Drain() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventApplied, EventResync, EventApplied, EventApplied}, kinds)
}

func TestServer_ResetDropsRequestsFromReplacedPairing(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, "abc")
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	events := srv.Subscribe()

	require.NoError(t, srv.AddRequest(ctx, edit(t, a, op.NewInsert(0, "0"))))
	srv.Reset("alice")
	assert.Equal(t, 1, srv.Epoch("alice"))
	assert.Equal(t, 0, srv.Epoch("bob"))

	// alice edits before the resync reaches her.
	stale := edit(t, a, op.NewInsert(0, "1"))
	assert.Equal(t, 0, stale.Epoch)

	msg, ok := srv.TryNextOutgoing("alice")
	require.True(t, ok)
	require.True(t, msg.Resync)
	assert.Equal(t, 1, msg.Epoch)
	a.Reset(msg.Snapshot, msg.Epoch)
	require.Equal(t, "0abc", a.Text())

	fresh := edit(t, a, op.NewInsert(1, "2"))
	assert.Equal(t, 1, fresh.Epoch)

	// The stale request arrives first and is dropped without a second reset.
	require.NoError(t, srv.AddRequest(ctx, stale))
	assert.Equal(t, "0abc", srv.Text())
	assert.Equal(t, 0, srv.Pending("alice"))

	require.NoError(t, srv.AddRequest(ctx, fresh))
	require.NoError(t, srv.AddRequest(ctx, edit(t, b, op.NewInsert(0, "B"))))

	deliver(t, srv, a)
	deliver(t, srv, b)
	assert.Equal(t, "0B2abc", srv.Text())
	assert.Equal(t, srv.Text(), a.Text())
	assert.Equal(t, srv.Text(), b.Text())
	assert.Equal(t, 1, srv.Epoch("alice"))

	var kinds []EventKind
	for _, ev := range events.Drain() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventApplied, EventResync, EventApplied, EventApplied}, kinds)
}

func TestServer_ResyncWithReason(t *testing.T) {
	srv := newTestServer(t, "core")
	require.NoError(t, srv.AddProxyClient("alice"))
	events := srv.Subscribe()

	srv.Resync("alice", "client request")
	srv.Resync("alice", "client request")

	// The second resync replaces the first in the queue.
	msg, ok := srv.TryNextOutgoing("alice")
	require.True(t, ok)
	assert.True(t, msg.Resync)
	assert.Equal(t, 2, msg.Epoch)
	assert.Equal(t, `resync "core" epoch=2`, msg.String())
	_, ok = srv.TryNextOutgoing("alice")
	assert.False(t, ok)

	got := events.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "client request", got[1].Reason)
	assert.Equal(t, -1, srv.Epoch("nobody"))
}

func TestServer_NormalizesText(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, "cafe\u0301\r\n")
	assert.Equal(t, "caf\u00e9\n", srv.Text())

	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	assert.Equal(t, "caf\u00e9\n", b.Text())

	// A decomposed insert is composed on every replica.
	require.NoError(t, srv.AddRequest(ctx, edit(t, a, op.NewInsert(0, "e\u0301"))))
	require.NoError(t, srv.Edit(op.NewComposite(op.NoOp{}, op.NewInsert(5, "A\u030a"))))
	deliver(t, srv, a)
	deliver(t, srv, b)

	want := "\u00e9caf\u00e9\u00c5\n"
	assert.Equal(t, want, srv.Text())
	assert.Equal(t, want, a.Text())
	assert.Equal(t, want, b.Text())
	assert.True(t, document.IsNormalized(srv.Text()))
}

func TestServer_EventsCarrySequenceAndChecksum(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, "core")
	events := srv.Subscribe()

	a := join(t, srv, "alice")
	require.NoError(t, srv.AddRequest(ctx, edit(t, a, op.NewInsert(3, "f"))))
	srv.RemoveProxyClient("alice")

	got := events.Drain()
	require.Len(t, got, 3)

	assert.Equal(t, EventJoined, got[0].Kind)
	assert.Equal(t, "core", got[0].Text)

	assert.Equal(t, EventApplied, got[1].Kind)
	assert.Equal(t, jupiter.ParticipantID("alice"), got[1].Participant)
	assert.Equal(t, op.Operation(op.NewInsert(3, "f")), got[1].Op)
	assert.Equal(t, document.Checksum("corfe"), got[1].Checksum)

	assert.Equal(t, EventLeft, got[2].Kind)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
}

func TestServer_Unsubscribe(t *testing.T) {
	srv := newTestServer(t, "core")
	events := srv.Subscribe()
	srv.Unsubscribe(events)

	require.NoError(t, srv.AddProxyClient("alice"))
	assert.Equal(t, 0, events.Len())
	assert.True(t, events.Closed())
}

func TestServer_EditBroadcastsToEveryone(t *testing.T) {
	srv := newTestServer(t, "core")
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")

	require.NoError(t, srv.Edit(op.NewInsert(0, "s")))
	deliver(t, srv, a)
	deliver(t, srv, b)

	assert.Equal(t, "score", a.Text())
	assert.Equal(t, "score", b.Text())

	err := srv.Edit(op.NewDelete(9, "x"))
	assert.True(t, op.IsApplyError(err))
}

func TestServer_NextOutgoingBlocksUntilRequest(t *testing.T) {
	srv := newTestServer(t, "core")
	a := join(t, srv, "alice")
	join(t, srv, "bob")

	got := make(chan Message, 1)
	go func() {
		msg, err := srv.NextOutgoing(context.Background(), "bob")
		if err == nil {
			got <- msg
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, srv.AddRequest(context.Background(), edit(t, a, op.NewInsert(0, "x"))))

	select {
	case msg := <-got:
		assert.Equal(t, jupiter.ParticipantID("alice"), msg.Request.Origin)
		assert.Equal(t, op.Operation(op.NewInsert(0, "x")), msg.Request.Operation)
	case <-time.After(time.Second):
		t.Fatal("NextOutgoing did not return")
	}
}

func TestServer_NextOutgoingUnblocksOnRemove(t *testing.T) {
	srv := newTestServer(t, "core")
	join(t, srv, "bob")

	errc := make(chan error, 1)
	go func() {
		_, err := srv.NextOutgoing(context.Background(), "bob")
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	srv.RemoveProxyClient("bob")

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, queue.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("NextOutgoing stayed parked after removal")
	}
}

func TestServer_NextOutgoingUnblocksOnCancel(t *testing.T) {
	srv := newTestServer(t, "core")
	join(t, srv, "bob")
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := srv.NextOutgoing(ctx, "bob")
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("NextOutgoing ignored cancellation")
	}
}

func TestServer_NextOutgoingUnknownProxy(t *testing.T) {
	srv := newTestServer(t, "core")
	_, err := srv.NextOutgoing(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUnknownProxy)
}

func TestServer_Close(t *testing.T) {
	srv := newTestServer(t, "core")
	a := join(t, srv, "alice")
	events := srv.Subscribe()

	srv.Close()
	srv.Close()

	err := srv.AddRequest(context.Background(), edit(t, a, op.NewInsert(0, "x")))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = srv.Join("bob")
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, srv.Submit(jupiter.Request{}))
	assert.True(t, events.Closed())
	assert.True(t, srv.Subscribe().Closed())

	_, err = srv.NextOutgoing(context.Background(), "alice")
	assert.True(t, errors.Is(err, queue.ErrClosed))
}

func TestServer_AddRequestHonoursDoneContext(t *testing.T) {
	srv := newTestServer(t, "core")
	a := join(t, srv, "alice")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := srv.AddRequest(ctx, edit(t, a, op.NewInsert(0, "x")))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "core", srv.Text())
}

func TestServer_SessionID(t *testing.T) {
	srv := newTestServer(t, "")
	assert.Equal(t, "session-1", srv.SessionID())

	assert.Len(t, New("").SessionID(), 36)
}
