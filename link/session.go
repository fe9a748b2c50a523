package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/radio"
)

var (
	ErrNoReply        = fmt.Errorf("%w: no reply", newjoy.ErrTransientIO)
	ErrDeliveryFailed = fmt.Errorf("%w: delivery failed", newjoy.ErrTransientIO)
	ErrWrongRole      = fmt.Errorf("%w: operation not available for this role", newjoy.ErrConfiguration)
)

// Radio is the part of radio.Driver a session needs.
type Radio interface {
	Setup(ctx context.Context, tx radio.Address, rx ...radio.Address) error
	StartListening() error
	StopListening() error
	Send(ctx context.Context, payload []byte) (radio.StatusCode, error)
	Any() (bool, error)
	Recv() ([]byte, error)
	Teardown() error
}

type Role int

const (
	Hub Role = iota
	Spoke
)

func (r Role) String() string {
	if r == Hub {
		return "hub"
	}
	return "spoke"
}

// Responder builds the hub's answer to a request.
type Responder func(ctx context.Context, request []byte) ([]byte, error)

type Stats struct {
	Requests       uint64 `yaml:"requests"`
	Responses      uint64 `yaml:"responses"`
	FramesIn       uint64 `yaml:"frames_in"`
	FramesOut      uint64 `yaml:"frames_out"`
	Dropped        uint64 `yaml:"dropped"`
	Malformed      uint64 `yaml:"malformed"`
	Retries        uint64 `yaml:"retries"`
	MaxRetransmits uint64 `yaml:"max_retransmits"`
	Timeouts       uint64 `yaml:"timeouts"`
	NoReply        uint64 `yaml:"no_reply"`
}

type Option func(*Session)

// WithPrefix sets the prefix a request must carry to be answered.
func WithPrefix(p []byte) Option {
	return func(s *Session) { s.prefix = p }
}

func WithResponder(r Responder) Option {
	return func(s *Session) { s.responder = r }
}

// WithReplyTimeout bounds the spoke's wait for a reply; zero waits until
// the context is done.
func WithReplyTimeout(d time.Duration) Option {
	return func(s *Session) { s.replyTimeout = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Session) { s.poll = d }
}

// WithRetries sets how many times a frame is resent after a failed
// delivery, waiting base, 2*base, 4*base... between attempts.
func WithRetries(n int, base time.Duration) Option {
	return func(s *Session) {
		s.retries = n
		s.backoff = base
	}
}

func WithSettle(listen, change time.Duration) Option {
	return func(s *Session) {
		s.listenSettle = listen
		s.switchSettle = change
	}
}

func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Session) { s.sleep = fn }
}

// Session is one end of the link. The hub answers requests, the spoke
// originates them. A session owns its radio exclusively.
type Session struct {
	role      Role
	radio     Radio
	peer      radio.Address
	own       radio.Address
	prefix    []byte
	responder Responder

	replyTimeout time.Duration
	poll         time.Duration
	retries      int
	backoff      time.Duration
	listenSettle time.Duration
	switchSettle time.Duration
	sleep        func(context.Context, time.Duration) error

	rx Reassembler

	mx    sync.Mutex
	stats Stats
}

func newSession(role Role, r Radio, peer radio.Address, opts ...Option) *Session {
	s := &Session{
		role:         role,
		radio:        r,
		peer:         peer,
		prefix:       Ping,
		responder:    pong,
		replyTimeout: 500 * time.Millisecond,
		poll:         time.Millisecond,
		retries:      5,
		backoff:      2 * time.Millisecond,
		listenSettle: radio.ListenSettle,
		switchSettle: radio.SwitchSettle,
		sleep:        sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func NewHub(r Radio, peer radio.Address, opts ...Option) *Session {
	return newSession(Hub, r, peer, opts...)
}

func NewSpoke(r Radio, peer radio.Address, opts ...Option) *Session {
	return newSession(Spoke, r, peer, opts...)
}

func pong(context.Context, []byte) ([]byte, error) {
	return Pong, nil
}

func (s *Session) Role() Role {
	return s.role
}

// Open sets the radio up to send to the peer and receive on own. The hub
// starts listening straight away.
func (s *Session) Open(ctx context.Context, own radio.Address) error {
	s.own = own
	if err := s.radio.Setup(ctx, s.peer, own); err != nil {
		return fmt.Errorf("%v link: %w", s.role, err)
	}
	if s.role == Hub {
		return s.listen(ctx)
	}
	return nil
}

func (s *Session) listen(ctx context.Context) error {
	if err := s.radio.StartListening(); err != nil {
		return err
	}
	return s.sleep(ctx, s.listenSettle)
}

// Serve runs one hub cycle: drain every pending frame, then answer each
// complete request. It returns the number of requests answered.
func (s *Session) Serve(ctx context.Context) (int, error) {
	if s.role != Hub {
		return 0, ErrWrongRole
	}
	requests, err := s.drain()
	if err != nil {
		return 0, err
	}
	served := 0
	for _, req := range requests {
		if !bytes.HasPrefix(req, s.prefix) {
			s.count(func(st *Stats) { st.Dropped++ })
			slog.Debug("dropping request without prefix", "len", len(req))
			continue
		}
		s.count(func(st *Stats) { st.Requests++ })
		resp, err := s.responder(ctx, req)
		if err != nil {
			slog.Warn("responder failed", "error", err)
			continue
		}
		if err := s.radio.StopListening(); err != nil {
			return served, err
		}
		err = s.sendMessage(ctx, resp)
		if lerr := s.listen(ctx); lerr != nil {
			return served, errors.Join(err, lerr)
		}
		if err != nil {
			if errors.Is(err, newjoy.ErrTransientIO) {
				slog.Warn("reply not delivered", "peer", s.peer, "error", err)
				continue
			}
			return served, err
		}
		s.count(func(st *Stats) { st.Responses++ })
		served++
	}
	return served, nil
}

// Run serves until ctx is done, pausing for the poll interval between
// cycles. A cancellation is a clean stop and returns nil wherever it lands.
func (s *Session) Run(ctx context.Context) error {
	for {
		if _, err := s.Serve(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, newjoy.ErrTransientIO) {
				return err
			}
			slog.Warn("hub cycle failed", "error", err)
		}
		if err := s.sleep(ctx, s.poll); err != nil {
			return nil
		}
	}
}

// drain reads all frames waiting in the radio and returns the messages
// they complete.
func (s *Session) drain() ([][]byte, error) {
	var msgs [][]byte
	for {
		ok, err := s.radio.Any()
		if err != nil {
			return msgs, err
		}
		if !ok {
			return msgs, nil
		}
		f, err := s.radio.Recv()
		if errors.Is(err, radio.ErrCorruptPayload) || errors.Is(err, radio.ErrEmpty) {
			s.count(func(st *Stats) { st.Dropped++ })
			continue
		}
		if err != nil {
			return msgs, err
		}
		s.count(func(st *Stats) { st.FramesIn++ })
		discarded := s.rx.Discarded
		msg, done, err := s.rx.Push(f)
		if n := s.rx.Discarded - discarded; n > 0 {
			s.count(func(st *Stats) { st.Dropped += uint64(n) })
		}
		if err != nil {
			s.count(func(st *Stats) { st.Malformed++ })
			slog.Debug("dropping frame", "error", err)
			continue
		}
		if done {
			msgs = append(msgs, msg)
		}
	}
}

// Exchange sends request to the hub and waits for the reply.
func (s *Session) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if s.role != Spoke {
		return nil, ErrWrongRole
	}
	if err := s.radio.StopListening(); err != nil {
		return nil, err
	}
	stale, err := s.drain()
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		s.count(func(st *Stats) { st.Dropped += uint64(len(stale)) })
		slog.Debug("dropping stale replies", "count", len(stale))
	}
	if err := s.sendMessage(ctx, request); err != nil {
		return nil, err
	}
	s.count(func(st *Stats) { st.Requests++ })
	if err := s.radio.StartListening(); err != nil {
		return nil, err
	}
	if err := s.sleep(ctx, s.switchSettle); err != nil {
		return nil, err
	}
	wait := ctx
	if s.replyTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, s.replyTimeout)
		defer cancel()
	}
	for {
		if _, err := WaitAny(wait, s.radio, s.poll, 0); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			s.count(func(st *Stats) { st.NoReply++ })
			return nil, fmt.Errorf("%w from %v within %v", ErrNoReply, s.peer, s.replyTimeout)
		}
		msgs, err := s.drain()
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			s.count(func(st *Stats) { st.Responses++ })
			return msgs[len(msgs)-1], nil
		}
	}
}

func (s *Session) sendMessage(ctx context.Context, msg []byte) error {
	frames, err := Split(msg)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := s.sendFrame(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) sendFrame(ctx context.Context, f []byte) error {
	for attempt := 0; ; attempt++ {
		status, err := s.radio.Send(ctx, f)
		if err != nil {
			return err
		}
		switch status {
		case radio.TransmitOk:
			s.count(func(st *Stats) { st.FramesOut++ })
			return nil
		case radio.MaxRetransmits:
			s.count(func(st *Stats) { st.MaxRetransmits++ })
		default:
			s.count(func(st *Stats) { st.Timeouts++ })
		}
		if attempt >= s.retries {
			return fmt.Errorf("%w: frame %d to %v: %v after %d attempts", ErrDeliveryFailed, f[0], s.peer, status, attempt+1)
		}
		s.count(func(st *Stats) { st.Retries++ })
		if err := s.sleep(ctx, s.backoff<<attempt); err != nil {
			return err
		}
	}
}

func (s *Session) count(fn func(*Stats)) {
	s.mx.Lock()
	fn(&s.stats)
	s.mx.Unlock()
}

func (s *Session) Stats() Stats {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.stats
}

// Close tears the radio down.
func (s *Session) Close() error {
	return s.radio.Teardown()
}

// Poller reports pending input.
type Poller interface {
	Any() (bool, error)
}

// WaitAny polls p every interval until it reports a frame. A zero timeout
// waits until ctx is done. It returns false with nil error on timeout.
func WaitAny(ctx context.Context, p Poller, interval, timeout time.Duration) (bool, error) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		ok, err := p.Any()
		if err != nil || ok {
			return ok, err
		}
		select {
		case <-ctx.Done():
			if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return false, nil
			}
			return false, ctx.Err()
		case <-t.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
