// Package room is the Session Room Controller. It turns the video transport's connected and
// disconnected signals into the lifetime of one live session: the chat engine with its viewer
// count and staggered inserts, the reaction overlay, the floating ticker, the caption bridge
// and the persistence sink all share one timer group that dies on disconnect.
package room

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/bookclub-live/backend/caption"
	"github.com/onnwee/bookclub-live/backend/chat"
	"github.com/onnwee/bookclub-live/backend/reactions"
	"github.com/onnwee/bookclub-live/backend/sched"
	"github.com/onnwee/bookclub-live/backend/telemetry"
	"github.com/onnwee/bookclub-live/backend/ticker"
)

var (
	ErrNotConnected       = errors.New("room: not connected")
	ErrEmptyMessage       = errors.New("room: message body is empty")
	ErrUnknownParticipant = errors.New("room: unknown participant")
	ErrNotHost            = errors.New("room: participant is not a host")
)

// liveSessions backs the active rooms gauge across all controllers.
var liveSessions atomic.Int64

// Deps are the collaborators shared by every room of a process.
type Deps struct {
	// Clock defaults to the real clock.
	Clock clockwork.Clock
	// Rand defaults to a fresh sched.NewRand() per session.
	Rand sched.Rand
	// Synth may be nil: the chat then only shows real messages.
	Synth chat.Synthesizer
	// Store may be nil to disable chat persistence.
	Store              chat.Store
	ViewerWalkInterval time.Duration
}

// Join carries the initial join parameters of a participant.
type Join struct {
	Topic     string `json:"topic"`
	BookTitle string `json:"bookTitle"`
	Host      bool   `json:"host"`
	// Captions declares that the host can run speech recognition.
	Captions bool `json:"captions"`
}

// Params is what the video transport needs back: the room and the publish capability.
// Participant identifies the join and must be passed to Disconnected.
type Params struct {
	Room        string `json:"room"`
	Participant string `json:"participant"`
	CanPublish  bool   `json:"canPublish"`
	Viewers     int    `json:"viewers"`
}

// Snapshot summarizes a room for listings.
type Snapshot struct {
	Room      string        `json:"room"`
	Live      bool          `json:"live"`
	Topic     string        `json:"topic,omitempty"`
	BookTitle string        `json:"bookTitle,omitempty"`
	StartedAt time.Time     `json:"startedAt,omitempty"`
	Present   int           `json:"participants"`
	Viewers   int           `json:"viewers"`
	Messages  int           `json:"messages"`
	Reactions int           `json:"reactions"`
	Caption   caption.State `json:"caption,omitempty"`
	Hub       HubStats      `json:"hub"`
}

// CaptionEvent is the payload of EventCaption.
type CaptionEvent struct {
	Text  string        `json:"text"`
	State caption.State `json:"state"`
}

// SessionEvent is the payload of EventSession.
type SessionEvent struct {
	Live      bool   `json:"live"`
	Topic     string `json:"topic,omitempty"`
	BookTitle string `json:"bookTitle,omitempty"`
}

type session struct {
	startedAt time.Time
	// participant id -> host flag
	participants map[string]bool
	group     *sched.Group
	engine    *chat.Engine
	overlay   *reactions.Overlay
	ticker    *ticker.Ticker
	bridge    *caption.Bridge
	rec       *caption.PushRecognizer
}

// Controller owns the sessions of one room, one at a time. Its hub outlives sessions so
// clients can subscribe before the host connects.
type Controller struct {
	name string
	deps Deps
	hub  *Hub
	log  *slog.Logger

	mu sync.Mutex
	s  *session
}

// NewController returns an idle controller for room name.
func NewController(name string, deps Deps) *Controller {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Controller{
		name: name,
		deps: deps,
		hub:  NewHub(),
		log:  slog.Default().With(slog.String("component", "room"), slog.String("room", name)),
	}
}

// Name returns the room name.
func (c *Controller) Name() string { return c.name }

// Hub returns the room's event hub.
func (c *Controller) Hub() *Hub { return c.hub }

// Live reports whether a session is running.
func (c *Controller) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s != nil
}

// Connected handles the transport's connected signal. The first participant starts the
// session; later participants join the running one. A host joining a session started
// without a topic or book title supplies them. Only hosts can publish.
func (c *Controller) Connected(ctx context.Context, j Join) (Params, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.s == nil {
		c.s = c.start(ctx, j)
		telemetry.SetActiveRooms(int(liveSessions.Add(1)))
		telemetry.LoggerWithCorr(ctx).Info("room session started",
			slog.String("component", "room"),
			slog.String("room", c.name),
			slog.Bool("host", j.Host),
			slog.Bool("captions", j.Captions))
	} else if j.Host {
		c.s.engine.SetBookContext(j.Topic, j.BookTitle)
		if j.Captions {
			c.s.rec.SetAvailable(true)
		}
		topic, book := c.s.engine.BookContext()
		c.publish(EventSession, SessionEvent{Live: true, Topic: topic, BookTitle: book})
	}
	id := uuid.NewString()
	c.s.participants[id] = j.Host
	return Params{Room: c.name, Participant: id, CanPublish: j.Host, Viewers: c.s.engine.Viewers()}, nil
}

// start builds and wires the session. Called with c.mu held; nothing here publishes
// synchronously except through the hub, which never blocks.
func (c *Controller) start(ctx context.Context, j Join) *session {
	rnd := c.deps.Rand
	if rnd == nil {
		rnd = sched.NewRand()
	}
	group := sched.NewGroup(c.deps.Clock)
	s := &session{
		startedAt:    group.Now(),
		participants: make(map[string]bool),
		group:        group,
		engine: chat.NewEngine(chat.Options{
			Room:               c.name,
			Topic:              j.Topic,
			BookTitle:          j.BookTitle,
			Group:              group,
			Rand:               rnd,
			Synth:              c.deps.Synth,
			ViewerWalkInterval: c.deps.ViewerWalkInterval,
			SeedOnStart:        true,
		}),
		overlay: reactions.NewOverlay(group, rnd),
		ticker:  ticker.New(group),
		rec:     caption.NewPushRecognizer(j.Host && j.Captions),
	}
	s.bridge = caption.NewBridge(group, s.rec, s.engine.ReceiveTranscript)

	if c.deps.Store != nil {
		s.engine.Subscribe(chat.NewPersistenceSink(context.WithoutCancel(ctx), c.deps.Store, c.name))
	}
	s.engine.Subscribe(s.ticker)
	s.engine.Subscribe(chat.ObserverFunc(func(m chat.Message) {
		c.publish(EventMessage, m)
	}))
	s.engine.WatchViewers(func(n int) {
		telemetry.SetViewers(c.name, n)
		c.publish(EventViewers, n)
	})
	s.ticker.OnChange(func(entries []ticker.Entry) {
		c.publish(EventTicker, entries)
	})
	s.overlay.Subscribe(func(ch reactions.Change) {
		c.publish(EventReaction, ch)
	})
	s.bridge.OnCaption(func(text string) {
		c.publish(EventCaption, CaptionEvent{Text: text, State: s.bridge.State()})
	})

	telemetry.SetViewers(c.name, s.engine.Viewers())
	s.engine.Start()
	s.overlay.Start()
	c.publish(EventSession, SessionEvent{Live: true, Topic: j.Topic, BookTitle: j.BookTitle})
	return s
}

// Disconnected handles the transport's disconnected signal for one participant. The
// session ends when its last host or its last participant leaves; ended reports whether
// it did.
func (c *Controller) Disconnected(participant string) (ended bool, err error) {
	c.mu.Lock()
	s := c.s
	if s == nil {
		c.mu.Unlock()
		return false, ErrNotConnected
	}
	host, ok := s.participants[participant]
	if !ok {
		c.mu.Unlock()
		return false, ErrUnknownParticipant
	}
	delete(s.participants, participant)
	if !(host && s.hosts() == 0) && len(s.participants) > 0 {
		c.mu.Unlock()
		return false, nil
	}
	c.s = nil
	c.mu.Unlock()

	c.teardown(s)
	return true, nil
}

// End tears the session down whoever is still present.
func (c *Controller) End() error {
	c.mu.Lock()
	s := c.s
	c.s = nil
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	c.teardown(s)
	return nil
}

func (s *session) hosts() int {
	n := 0
	for _, host := range s.participants {
		if host {
			n++
		}
	}
	return n
}

// teardown drops every pending timer of the session, so no staggered comment lands in a
// torn-down engine.
func (c *Controller) teardown(s *session) {
	s.bridge.SetListening(false)
	s.overlay.Stop()
	s.engine.Close()
	s.group.Stop()

	telemetry.DeleteViewers(c.name)
	telemetry.SetActiveRooms(int(liveSessions.Add(-1)))
	c.publish(EventSession, SessionEvent{Live: false})
	c.log.Info("room session ended",
		slog.Int("messages", s.engine.Len()),
		slog.Duration("duration", s.group.Now().Sub(s.startedAt)))
}

func (c *Controller) publish(t EventType, data any) {
	c.hub.Publish(Event{Type: t, Room: c.name, At: c.deps.Clock.Now(), Data: data})
}

func (c *Controller) present() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s == nil {
		return 0
	}
	return len(c.s.participants)
}

func (c *Controller) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s == nil {
		return nil, ErrNotConnected
	}
	return c.s, nil
}

// Submit posts a chat message. A blank display name becomes chat.GuestName.
func (c *Controller) Submit(displayName, body string, host bool) (chat.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return chat.Message{}, ErrEmptyMessage
	}
	s, err := c.current()
	if err != nil {
		return chat.Message{}, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = chat.GuestName
	}
	return s.engine.Submit(displayName, body, host), nil
}

// Relay delivers a message from an external chat as a non-host user message. Synthesis
// for relayed lines is rate limited by the engine.
func (c *Controller) Relay(displayName, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyMessage
	}
	s, err := c.current()
	if err != nil {
		return err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = chat.GuestName
	}
	s.engine.Relay(displayName, body)
	return nil
}

// Messages returns the session's chat in insertion order.
func (c *Controller) Messages() ([]chat.Message, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.engine.Messages(), nil
}

// Viewers returns the simulated viewer count.
func (c *Controller) Viewers() (int, error) {
	s, err := c.current()
	if err != nil {
		return 0, err
	}
	return s.engine.Viewers(), nil
}

// React creates a tapped reaction of kind.
func (c *Controller) React(kind reactions.Kind) (reactions.Reaction, error) {
	s, err := c.current()
	if err != nil {
		return reactions.Reaction{}, err
	}
	return s.overlay.Tap(kind)
}

// Reactions returns the reactions currently on screen.
func (c *Controller) Reactions() ([]reactions.Reaction, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.overlay.Visible(), nil
}

// Ticker returns the floating comments currently on screen.
func (c *Controller) Ticker() ([]ticker.Entry, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.ticker.Visible(), nil
}

// SetListening toggles the host's caption bridge.
func (c *Controller) SetListening(on bool) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	s.bridge.SetListening(on)
	return nil
}

// Caption returns the live caption and the bridge state.
func (c *Controller) Caption() (CaptionEvent, error) {
	s, err := c.current()
	if err != nil {
		return CaptionEvent{}, err
	}
	return CaptionEvent{Text: s.bridge.Caption(), State: s.bridge.State()}, nil
}

// IsHost reports whether participant joined the running session as a host.
func (c *Controller) IsHost(participant string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s != nil && c.s.participants[participant]
}

// PushTranscript feeds one recognition result from a host's client into the bridge.
// It returns ErrNotHost for other participants, and caption.ErrNotStarted unless the
// host is listening with captions available.
func (c *Controller) PushTranscript(participant string, r caption.Result) error {
	c.mu.Lock()
	s := c.s
	if s == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	host := s.participants[participant]
	c.mu.Unlock()
	if !host {
		return ErrNotHost
	}
	return s.rec.Push(r)
}

// Snapshot summarizes the room.
func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{Room: c.name, Hub: c.hub.Stats()}
	s, err := c.current()
	if err != nil {
		return snap
	}
	snap.Live = true
	snap.Topic, snap.BookTitle = s.engine.BookContext()
	snap.StartedAt = s.startedAt
	snap.Present = c.present()
	snap.Viewers = s.engine.Viewers()
	snap.Messages = s.engine.Len()
	snap.Reactions = len(s.overlay.Visible())
	snap.Caption = s.bridge.State()
	return snap
}
