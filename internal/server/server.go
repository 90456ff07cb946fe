package server

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/saros-project/saros-sub040/internal/document"
	"github.com/saros-project/saros-sub040/internal/jupiter"
	"github.com/saros-project/saros-sub040/internal/op"
	"github.com/saros-project/saros-sub040/internal/queue"
)

// serverID is the origin of requests the server generates on its own behalf.
const serverID jupiter.ParticipantID = "server"

// proxy is the server side of one participant's pairing.
type proxy struct {
	algo     *jupiter.Algorithm
	outgoing *queue.Queue[Message]
}

// Server is the Jupiter document server.
//
// Thread-safety model:
//   - AddRequest, Submit, lifecycle methods and accessors: safe from any goroutine
//   - NextOutgoing: one sender per participant; blocks without holding the server lock
//   - Run: at most one goroutine
type Server struct {
	mu      sync.Mutex
	doc     document.Document
	proxies map[jupiter.ParticipantID]*proxy
	closed  bool

	subMu       sync.Mutex
	subscribers []*queue.Queue[Event]
	subClosed   bool

	inbound   *queue.Queue[jupiter.Request]
	clock     *Clock
	logger    *slog.Logger
	ids       IDGenerator
	sessionID string
}

// Option configures a Server.
type Option func(*Server)

// WithDocument makes the server keep its copy of the document in doc.
func WithDocument(doc document.Document) Option {
	return func(s *Server) {
		s.doc = doc
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock sets the clock that sequences events.
func WithClock(c *Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithIDGenerator sets the session id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Server) {
		s.ids = g
	}
}

// New creates a server for a session whose document starts as initialText,
// normalised.
func New(initialText string, opts ...Option) *Server {
	s := &Server{
		proxies: make(map[jupiter.ParticipantID]*proxy),
		inbound: queue.New[jupiter.Request](),
		clock:   NewClock(),
		logger:  slog.Default(),
		ids:     UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	initialText = document.Normalize(initialText)
	if s.doc == nil {
		s.doc = document.NewBuffer(initialText)
	} else {
		s.doc.Reset(initialText)
	}
	s.sessionID = s.ids.Generate()
	s.logger = s.logger.With("session", s.sessionID)
	return s
}

// SessionID returns the id of the session this server sequences.
func (s *Server) SessionID() string { return s.sessionID }

// Subscribe returns a queue receiving every subsequent event.
func (s *Server) Subscribe() *queue.Queue[Event] {
	q := queue.New[Event]()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subClosed {
		q.Close()
		return q
	}
	s.subscribers = append(s.subscribers, q)
	return q
}

// SubscribeSnapshot is Subscribe that also returns the document text the
// first received event applies to.
func (s *Server) SubscribeSnapshot() (*queue.Queue[Event], string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Subscribe(), s.doc.Text()
}

// Unsubscribe closes q and stops publishing to it.
func (s *Server) Unsubscribe(q *queue.Queue[Event]) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = slices.DeleteFunc(s.subscribers, func(x *queue.Queue[Event]) bool { return x == q })
	q.Close()
}

func (s *Server) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, q := range s.subscribers {
		q.Push(ev)
	}
}

// AddProxyClient adds a proxy for id at generation zero.
//
// Returns a DuplicateProxyError if id is already present; the existing
// proxy keeps its generations and pending messages.
func (s *Server) AddProxyClient(id jupiter.ParticipantID) error {
	_, err := s.Join(id)
	return err
}

// Join adds a proxy for id and returns the document snapshot the
// participant's client must start from.
func (s *Server) Join(id jupiter.ParticipantID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	if _, ok := s.proxies[id]; ok {
		s.logger.Warn("proxy already exists, keeping registration", "participant", id)
		return s.doc.Text(), &DuplicateProxyError{ID: id}
	}

	s.proxies[id] = &proxy{
		algo:     jupiter.NewAlgorithm(jupiter.ServerSide),
		outgoing: queue.New[Message](),
	}
	text := s.doc.Text()
	s.logger.Info("proxy added", "participant", id, "participants", len(s.proxies))
	s.publish(Event{Kind: EventJoined, Seq: s.clock.Next(), Participant: id, Text: text, Checksum: document.Checksum(text)})
	return text, nil
}

// RemoveProxyClient removes id's proxy and closes its outgoing queue, which
// unblocks a sender parked in NextOutgoing. No-op if id is absent.
func (s *Server) RemoveProxyClient(id jupiter.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proxies[id]
	if !ok {
		return
	}
	delete(s.proxies, id)
	p.outgoing.Close()

	s.logger.Info("proxy removed", "participant", id, "participants", len(s.proxies))
	s.publish(Event{Kind: EventLeft, Seq: s.clock.Next(), Participant: id, Checksum: document.Checksum(s.doc.Text())})
}

// Reset resets id's proxy in place, drops its pending messages and queues a
// resync carrying the current document. No-op if id is absent.
//
// The pairing moves to a new epoch. Requests the participant generated
// before it adopts the resync are dropped on arrival.
func (s *Server) Reset(id jupiter.ParticipantID) {
	s.Resync(id, "requested")
}

// Resync is Reset with the reason reported in the resync event, e.g. a
// participant asking to be resynchronised after it failed to apply a request.
func (s *Server) Resync(id jupiter.ParticipantID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(id, reason)
}

// resetLocked is Reset for callers holding mu.
func (s *Server) resetLocked(id jupiter.ParticipantID, reason string) {
	p, ok := s.proxies[id]
	if !ok {
		return
	}

	dropped := len(p.outgoing.Drain())
	epoch := p.algo.Epoch() + 1
	p.algo.Reset(epoch)
	text := s.doc.Text()
	p.outgoing.Push(Message{Resync: true, Snapshot: text, Epoch: epoch})

	s.logger.Warn("proxy reset", "participant", id, "reason", reason, "epoch", epoch, "dropped", dropped)
	s.publish(Event{Kind: EventResync, Seq: s.clock.Next(), Participant: id, Text: text, Checksum: document.Checksum(text), Reason: reason})
}

// Epoch returns the epoch of id's pairing, or -1 if id has no proxy.
func (s *Server) Epoch(id jupiter.ParticipantID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proxies[id]
	if !ok {
		return -1
	}
	return p.algo.Epoch()
}

// IsExist reports whether id has a proxy.
func (s *Server) IsExist(id jupiter.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.proxies[id]
	return ok
}

// Participants returns the ids with a proxy, sorted.
func (s *Server) Participants() []jupiter.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

func (s *Server) sortedLocked() []jupiter.ParticipantID {
	ids := make([]jupiter.ParticipantID, 0, len(s.proxies))
	for id := range s.proxies {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// AddRequest applies a request from req.Origin and broadcasts the result to
// every other participant.
//
// Requests from unknown participants are dropped with a warning, and
// requests generated before the origin's last reset are dropped silently.
// A request that breaks its current pairing (causal gap or rejected by the
// document) resets the origin's proxy. None of these is returned as an error. Returns ErrClosed
// after Close and ctx.Err() if ctx is already done.
func (s *Server) AddRequest(ctx context.Context, req jupiter.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	origin, ok := s.proxies[req.Origin]
	if !ok {
		s.logger.Warn("dropping request from unknown proxy", "participant", req.Origin, "timestamp", req.Timestamp.String())
		return nil
	}

	o, err := origin.algo.Receive(req)
	if err != nil {
		if jupiter.IsStaleEpoch(err) {
			s.logger.Debug("dropping request from replaced pairing", "participant", req.Origin, "epoch", req.Epoch, "current", origin.algo.Epoch())
			return nil
		}
		if !jupiter.IsCausalGap(err) {
			return fmt.Errorf("receive from %s: %w", req.Origin, err)
		}
		s.logger.Error("causal gap", "participant", req.Origin, "error", err)
		s.resetLocked(req.Origin, "causal gap")
		return nil
	}

	if err := s.doc.Apply(o); err != nil {
		s.logger.Error("transformed operation rejected by document", "participant", req.Origin, "op", o.String(), "error", err)
		s.resetLocked(req.Origin, "rejected operation")
		return nil
	}

	for _, id := range s.sortedLocked() {
		if id == req.Origin {
			continue
		}
		p := s.proxies[id]
		p.outgoing.Push(Message{Request: p.algo.Generate(o, req.Origin)})
	}

	seq := s.clock.Next()
	s.logger.Debug("request applied", "seq", seq, "participant", req.Origin, "timestamp", req.Timestamp.String(), "op", o.String())
	s.publish(Event{
		Kind:        EventApplied,
		Seq:         seq,
		Participant: req.Origin,
		Op:          o,
		Timestamp:   req.Timestamp,
		Checksum:    document.Checksum(s.doc.Text()),
	})
	return nil
}

// Edit applies an edit made on the server's own copy of the document and
// broadcasts it to every participant. Inserted text is normalised first.
func (s *Server) Edit(o op.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	o = document.NormalizeOp(op.Simplify(o))
	if err := s.doc.Apply(o); err != nil {
		return fmt.Errorf("server edit: %w", err)
	}
	for _, id := range s.sortedLocked() {
		p := s.proxies[id]
		p.outgoing.Push(Message{Request: p.algo.Generate(o, serverID)})
	}

	s.publish(Event{Kind: EventApplied, Seq: s.clock.Next(), Participant: serverID, Op: o, Checksum: document.Checksum(s.doc.Text())})
	return nil
}

// Submit queues req for the Run loop. Returns false once the server is closed.
func (s *Server) Submit(req jupiter.Request) bool {
	return s.inbound.Push(req)
}

// Run processes submitted requests in submission order.
// Blocks until ctx is cancelled or the server is closed.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("server starting")

	for {
		if req, ok := s.inbound.TryPop(); ok {
			if err := s.AddRequest(ctx, req); err != nil {
				s.logger.Error("request failed", "participant", req.Origin, "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("server stopping: context cancelled")
			return ctx.Err()
		case <-s.inbound.Wait():
			if s.inbound.Closed() && s.inbound.Len() == 0 {
				s.logger.Info("server stopping: closed")
				return nil
			}
		}
	}
}

// NextOutgoing returns the next message for id, blocking until one is queued.
//
// Returns ErrUnknownProxy if id has no proxy, queue.ErrClosed if the proxy is
// removed while waiting, and ctx.Err() on cancellation.
func (s *Server) NextOutgoing(ctx context.Context, id jupiter.ParticipantID) (Message, error) {
	q, err := s.outgoing(id)
	if err != nil {
		return Message{}, err
	}
	return q.Pop(ctx)
}

// TryNextOutgoing returns the next message for id without blocking.
func (s *Server) TryNextOutgoing(id jupiter.ParticipantID) (Message, bool) {
	q, err := s.outgoing(id)
	if err != nil {
		return Message{}, false
	}
	return q.TryPop()
}

// Pending returns the number of messages queued for id.
func (s *Server) Pending(id jupiter.ParticipantID) int {
	q, err := s.outgoing(id)
	if err != nil {
		return 0
	}
	return q.Len()
}

func (s *Server) outgoing(id jupiter.ParticipantID) (*queue.Queue[Message], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proxies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProxy, id)
	}
	return p.outgoing, nil
}

// Text returns the server document.
func (s *Server) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Text()
}

// Checksum returns the checksum of the server document.
func (s *Server) Checksum() string {
	return document.Checksum(s.Text())
}

// Close stops the server: pending requests are rejected, outgoing and
// subscriber queues are closed. Messages already queued stay readable.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, p := range s.proxies {
		p.outgoing.Close()
	}
	s.mu.Unlock()

	s.inbound.Close()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subClosed = true
	for _, q := range s.subscribers {
		q.Close()
	}
	s.subscribers = nil
}
