package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/saros-project/saros-sub040/internal/jupiter"
	"github.com/saros-project/saros-sub040/internal/queue"
	"github.com/saros-project/saros-sub040/internal/server"
	"github.com/saros-project/saros-sub040/internal/store"
)

// Option configures a scenario run.
type Option func(*config)

type config struct {
	logger  *slog.Logger
	ids     server.IDGenerator
	journal *store.Store
}

// WithLogger sets the logger handed to the server. Default: discard.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithIDGenerator sets the session id generator. Default: UUIDv7Generator.
func WithIDGenerator(g server.IDGenerator) Option {
	return func(c *config) {
		c.ids = g
	}
}

// WithJournal records the simulated session in st.
func WithJournal(st *store.Store) Option {
	return func(c *config) {
		c.journal = st
	}
}

// Run executes a scenario. Flush steps drain channels in a fixed order:
// every uplink in client order, then every downlink in client order,
// repeated until the network is idle.
//
// Returns an error if a step cannot be executed (unknown client, invalid
// edit, empty channel). Failed expectations are reported in the Result.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	return run(ctx, s, nil, opts)
}

// RunRandomized executes a scenario with flush steps that pick the next
// channel to service with a PRNG seeded by seed. Each channel stays FIFO.
func RunRandomized(ctx context.Context, s *Scenario, seed uint64, opts ...Option) (*Result, error) {
	return run(ctx, s, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), opts)
}

// runner is the state of one scenario run.
type runner struct {
	srv     *server.Server
	events  *queue.Queue[server.Event]
	clients map[jupiter.ParticipantID]*jupiter.Client
	order   []jupiter.ParticipantID
	uplink  map[jupiter.ParticipantID][]jupiter.Request
	rng     *rand.Rand
	logger  *slog.Logger
	result  *Result
}

func run(ctx context.Context, s *Scenario, rng *rand.Rand, opts []Option) (*Result, error) {
	cfg := config{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:    server.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv := server.New(s.Initial, server.WithLogger(cfg.logger), server.WithIDGenerator(cfg.ids))
	r := &runner{
		srv:     srv,
		events:  srv.Subscribe(),
		clients: make(map[jupiter.ParticipantID]*jupiter.Client),
		uplink:  make(map[jupiter.ParticipantID][]jupiter.Request),
		rng:     rng,
		logger:  cfg.logger,
		result:  NewResult(s.Name),
	}
	r.result.SessionID = srv.SessionID()

	var recorded chan error
	if cfg.journal != nil {
		rec, err := store.NewRecorder(ctx, cfg.journal, srv, store.WithRecorderLogger(cfg.logger))
		if err != nil {
			srv.Close()
			return nil, err
		}
		recorded = make(chan error, 1)
		go func() { recorded <- rec.Run(ctx) }()
	}
	// Closing the server ends the recorder once it has written every event.
	defer func() {
		srv.Close()
		if recorded != nil {
			if err := <-recorded; err != nil {
				cfg.logger.Error("journal recorder stopped", "error", err)
			}
		}
	}()

	for _, id := range s.Clients {
		r.join(jupiter.ParticipantID(id))
	}
	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.step(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Kind(), err)
		}
	}

	r.finish()
	checkExpect(s.Expect, r.result)
	return r.result, nil
}

func (r *runner) tracef(format string, args ...any) {
	r.result.Trace = append(r.result.Trace, fmt.Sprintf(format, args...))
}

// drainEvents appends the server events published since the last call.
func (r *runner) drainEvents() {
	for {
		ev, ok := r.events.TryPop()
		if !ok {
			return
		}
		switch ev.Kind {
		case server.EventApplied:
			r.tracef("server applied seq=%d %s %s", ev.Seq, ev.Participant, ev.Op)
		case server.EventResync:
			r.result.Resyncs++
			r.tracef("server resync seq=%d %s %q", ev.Seq, ev.Participant, ev.Reason)
		default:
			r.tracef("server %s seq=%d %s", ev.Kind, ev.Seq, ev.Participant)
		}
	}
}

func (r *runner) step(ctx context.Context, st Step) error {
	defer r.drainEvents()

	switch {
	case st.Edit != nil:
		return r.edit(st.Edit)
	case st.Send != "":
		return r.send(ctx, jupiter.ParticipantID(st.Send))
	case st.Deliver != "":
		return r.deliver(jupiter.ParticipantID(st.Deliver))
	case st.Flush:
		r.tracef("flush")
		return r.flush(ctx)
	case st.Join != "":
		r.join(jupiter.ParticipantID(st.Join))
		return nil
	case st.Leave != "":
		r.leave(jupiter.ParticipantID(st.Leave))
		return nil
	case st.Reset != "":
		r.reset(jupiter.ParticipantID(st.Reset))
		return nil
	case st.Undo != "":
		return r.undo(jupiter.ParticipantID(st.Undo))
	default:
		return fmt.Errorf("step sets no action")
	}
}

func (r *runner) client(id jupiter.ParticipantID) (*jupiter.Client, error) {
	c, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("unknown client %q", id)
	}
	return c, nil
}

func (r *runner) join(id jupiter.ParticipantID) {
	text, err := r.srv.Join(id)
	if server.IsDuplicateProxy(err) {
		r.tracef("join %s duplicate", id)
		r.drainEvents()
		return
	}
	r.clients[id] = jupiter.NewClient(id, text)
	r.order = append(r.order, id)
	r.tracef("join %s %q", id, text)
	r.drainEvents()
}

func (r *runner) leave(id jupiter.ParticipantID) {
	r.srv.RemoveProxyClient(id)
	delete(r.clients, id)
	delete(r.uplink, id)
	r.order = slices.DeleteFunc(r.order, func(x jupiter.ParticipantID) bool { return x == id })
	r.tracef("leave %s", id)
}

// reset leaves the uplink alone: requests already sent are still on their
// way and the server decides what to do with them.
func (r *runner) reset(id jupiter.ParticipantID) {
	r.srv.Reset(id)
	r.tracef("reset %s epoch=%d in-flight=%d", id, r.srv.Epoch(id), len(r.uplink[id]))
}

func (r *runner) edit(e *EditStep) error {
	id := jupiter.ParticipantID(e.Client)
	c, err := r.client(id)
	if err != nil {
		return err
	}
	o, err := e.Op.Build(c.Text())
	if err != nil {
		return err
	}
	req, err := c.Generate(o)
	if err != nil {
		return err
	}
	r.uplink[id] = append(r.uplink[id], req)
	r.tracef("edit %s %s %s %q", id, req.Operation, req.Timestamp, c.Text())
	return nil
}

func (r *runner) undo(id jupiter.ParticipantID) error {
	c, err := r.client(id)
	if err != nil {
		return err
	}
	req, err := c.Undo()
	if err != nil {
		return err
	}
	r.uplink[id] = append(r.uplink[id], req)
	r.tracef("undo %s %s %s %q", id, req.Operation, req.Timestamp, c.Text())
	return nil
}

func (r *runner) send(ctx context.Context, id jupiter.ParticipantID) error {
	if _, err := r.client(id); err != nil {
		return err
	}
	pending := r.uplink[id]
	if len(pending) == 0 {
		return fmt.Errorf("uplink of %s is empty", id)
	}
	req := pending[0]
	r.uplink[id] = pending[1:]

	epoch := r.srv.Epoch(id)
	if err := r.srv.AddRequest(ctx, req); err != nil {
		return err
	}
	if req.Epoch != epoch {
		r.tracef("send %s %s %s dropped epoch=%d current=%d", id, req.Timestamp, req.Operation, req.Epoch, epoch)
		return nil
	}
	r.tracef("send %s %s %s %q", id, req.Timestamp, req.Operation, r.srv.Text())
	return nil
}

func (r *runner) deliver(id jupiter.ParticipantID) error {
	c, err := r.client(id)
	if err != nil {
		return err
	}
	msg, ok := r.srv.TryNextOutgoing(id)
	if !ok {
		return fmt.Errorf("downlink of %s is empty", id)
	}

	if msg.Resync {
		c.Reset(msg.Snapshot, msg.Epoch)
		r.tracef("deliver %s resync %q epoch=%d", id, msg.Snapshot, msg.Epoch)
		return nil
	}

	applied, err := c.Receive(msg.Request)
	if jupiter.IsStaleEpoch(err) {
		r.tracef("deliver %s %s dropped: %v", id, msg.Request, err)
		return nil
	}
	if err != nil {
		// The client asks for a resync, as a connected participant would.
		r.tracef("deliver %s %s failed: %v", id, msg.Request, err)
		r.srv.Resync(id, "client request")
		return nil
	}
	r.tracef("deliver %s %s => %s %q", id, msg.Request, applied, c.Text())
	return nil
}

// channel is one direction of one client's link to the server.
type channel struct {
	id   jupiter.ParticipantID
	send bool
}

func (r *runner) flush(ctx context.Context) error {
	if r.rng == nil {
		return r.flushOrdered(ctx)
	}

	for {
		var ready []channel
		for _, id := range r.order {
			if len(r.uplink[id]) > 0 {
				ready = append(ready, channel{id: id, send: true})
			}
			if r.srv.Pending(id) > 0 {
				ready = append(ready, channel{id: id})
			}
		}
		if len(ready) == 0 {
			return nil
		}

		ch := ready[r.rng.IntN(len(ready))]
		var err error
		if ch.send {
			err = r.send(ctx, ch.id)
		} else {
			err = r.deliver(ch.id)
		}
		if err != nil {
			return err
		}
		r.drainEvents()
	}
}

func (r *runner) flushOrdered(ctx context.Context) error {
	for {
		moved := false
		for _, id := range r.order {
			for len(r.uplink[id]) > 0 {
				if err := r.send(ctx, id); err != nil {
					return err
				}
				r.drainEvents()
				moved = true
			}
		}
		for _, id := range r.order {
			for r.srv.Pending(id) > 0 {
				if err := r.deliver(id); err != nil {
					return err
				}
				moved = true
			}
		}
		if !moved {
			return nil
		}
	}
}

// finish records the final documents.
func (r *runner) finish() {
	res := r.result
	res.Server = r.srv.Text()

	distinct := mapset.NewThreadUnsafeSet(res.Server)
	for _, id := range r.order {
		text := r.clients[id].Text()
		res.Texts[string(id)] = text
		distinct.Add(text)
	}
	res.Converged = distinct.Cardinality() == 1
	res.Distinct = distinct.ToSlice()
	slices.Sort(res.Distinct)

	r.logger.Debug("scenario finished", "scenario", res.Scenario, "converged", res.Converged, "resyncs", res.Resyncs)
}
