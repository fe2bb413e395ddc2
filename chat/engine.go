package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/bookclub-live/backend/sched"
	"github.com/onnwee/bookclub-live/backend/synth"
	"github.com/onnwee/bookclub-live/backend/telemetry"
)

// Synthesizer produces comment batches for a discussion context. *synth.Client implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, sc synth.Context) ([]synth.Comment, error)
}

// Observer is told about every appended message, newest only.
// Observers run synchronously and must not call Submit or AppendScheduled.
type Observer interface {
	OnMessage(Message)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Message)

func (f ObserverFunc) OnMessage(m Message) { f(m) }

// Options configures an Engine.
type Options struct {
	Room      string
	Topic     string
	BookTitle string

	// Group owns every timer of the session. Required.
	Group *sched.Group
	// Rand defaults to sched.NewRand().
	Rand sched.Rand
	// Synth may be nil, in which case nothing is ever synthesized.
	Synth Synthesizer

	// ViewerWalkInterval defaults to 3s.
	ViewerWalkInterval time.Duration
	// SeedOnStart requests one ambient batch from topic and book title on Start.
	SeedOnStart bool
	// RelaySynthInterval bounds how often relayed messages may trigger synthesis.
	// Defaults to 20s.
	RelaySynthInterval time.Duration
}

type subscriber[T any] struct {
	id int
	fn T
}

// Engine is the Live Chat Engine of one session.
type Engine struct {
	opts    Options
	group   *sched.Group
	rnd     sched.Rand
	stagger *Stagger
	relay   *rate.Limiter
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// deliver serializes append+notify so observers see messages in append order.
	deliver sync.Mutex

	mu             sync.Mutex
	topic          string
	bookTitle      string
	messages       []Message
	lastCreated    time.Time
	viewers        int
	lastTranscript string
	observers      []subscriber[Observer]
	watchers       []subscriber[func(int)]
	nextSub        int
	walkTok        sched.Token
	started        bool
	closed         bool
}

// NewEngine creates the engine of a session joining now. The viewer count starts at
// 150 plus a random 0..99.
func NewEngine(opts Options) *Engine {
	if opts.Group == nil {
		opts.Group = sched.NewGroup(nil)
	}
	if opts.Rand == nil {
		opts.Rand = sched.NewRand()
	}
	if opts.ViewerWalkInterval <= 0 {
		opts.ViewerWalkInterval = defaultViewerWalkInterval
	}
	if opts.RelaySynthInterval <= 0 {
		opts.RelaySynthInterval = defaultRelaySynthInterval
	}
	ctx, cancel := context.WithCancel(telemetry.WithRoom(context.Background(), opts.Room))
	e := &Engine{
		opts:      opts,
		group:     opts.Group,
		rnd:       opts.Rand,
		relay:     rate.NewLimiter(rate.Every(opts.RelaySynthInterval), 1),
		log:       slog.Default().With(slog.String("component", "chat"), slog.String("room", opts.Room)),
		ctx:       ctx,
		cancel:    cancel,
		topic:     opts.Topic,
		bookTitle: opts.BookTitle,
	}
	e.stagger = NewStagger(e.group, e.rnd, e.AppendScheduled)
	e.viewers = viewerBase + e.rnd.Intn(viewerInitialSpread)
	e.clampViewersLocked()
	return e
}

// Room returns the room name the engine was created for.
func (e *Engine) Room() string { return e.opts.Room }

// Start arms the viewer random walk and, with SeedOnStart, requests an ambient batch.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	tok := e.group.Every(e.opts.ViewerWalkInterval, e.walkViewers)
	e.mu.Lock()
	e.walkTok = tok
	e.mu.Unlock()

	if e.opts.SeedOnStart {
		e.requestSynthesis(e.synthContext(""))
	}
}

// SetBookContext fills in the topic and book title when the session has none yet, as when
// a viewer opened the room before the host. Once a blank context gains one, SeedOnStart
// asks for the ambient batch that could not be made before.
func (e *Engine) SetBookContext(topic, bookTitle string) {
	topic = strings.TrimSpace(topic)
	bookTitle = strings.TrimSpace(bookTitle)
	e.mu.Lock()
	wasBlank := e.topic == "" && e.bookTitle == ""
	if e.topic == "" {
		e.topic = topic
	}
	if e.bookTitle == "" {
		e.bookTitle = bookTitle
	}
	seed := wasBlank && (e.topic != "" || e.bookTitle != "") && e.started && e.opts.SeedOnStart
	e.mu.Unlock()
	if seed {
		e.requestSynthesis(e.synthContext(""))
	}
}

// BookContext returns the session topic and book title.
func (e *Engine) BookContext() (topic, bookTitle string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.topic, e.bookTitle
}

func (e *Engine) synthContext(author string) synth.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return synth.Context{Topic: e.topic, BookTitle: e.bookTitle, AuthorMessage: author}
}

// Close stops the viewer walk and cancels in-flight synthesis. Pending staggered inserts
// die with the session's Group; AppendScheduled is a no-op afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	tok := e.walkTok
	e.mu.Unlock()

	e.cancel()
	if tok != 0 {
		e.group.Cancel(tok)
	}
}

// Submit appends a user message, spikes the viewer count and asynchronously asks for a
// synthesized batch reacting to body.
func (e *Engine) Submit(displayName, body string, host bool) Message {
	msg := e.appendUser(displayName, body, host)
	e.requestSynthesis(e.synthContext(body))
	return msg
}

// Relay appends a message mirrored from an external chat. It behaves like a non-host
// Submit, except that synthesis is requested at most once per RelaySynthInterval: a busy
// external channel must not turn into one generation call per line.
func (e *Engine) Relay(displayName, body string) Message {
	msg := e.appendUser(displayName, body, false)
	if e.relay.AllowN(e.group.Now(), 1) {
		e.requestSynthesis(e.synthContext(body))
	}
	return msg
}

func (e *Engine) appendUser(displayName, body string, host bool) Message {
	msg := newMessage(e.rnd, displayName, body, OriginUser, host)

	e.deliver.Lock()
	e.mu.Lock()
	msg = e.appendLocked(msg)
	e.spikeLocked()
	viewers := e.viewers
	observers, watchers := e.subscribersLocked()
	e.mu.Unlock()
	notify(observers, watchers, &msg, viewers)
	e.deliver.Unlock()

	telemetry.RecordChatMessage(string(OriginUser))
	return msg
}

// ReceiveSynthesizedBatch converts comments into messages and hands them to the Stagger.
func (e *Engine) ReceiveSynthesizedBatch(comments []synth.Comment) {
	if len(comments) == 0 {
		return
	}
	batch := make([]Message, 0, len(comments))
	for _, c := range comments {
		batch = append(batch, newMessage(e.rnd, c.Name, c.Message, OriginSynthesized, false))
	}
	e.stagger.Schedule(batch)
}

// AppendScheduled appends one synthesized message and notifies observers. It never
// triggers synthesis.
func (e *Engine) AppendScheduled(msg Message) {
	msg.Origin = OriginSynthesized
	msg.Host = false
	if msg.AvatarGlyph == "" {
		msg.AvatarGlyph = AvatarGlyph(msg.DisplayName)
	}
	if msg.ID == "" || msg.AvatarColor == "" {
		fresh := newMessage(e.rnd, msg.DisplayName, msg.Body, OriginSynthesized, false)
		if msg.ID == "" {
			msg.ID = fresh.ID
		}
		if msg.AvatarColor == "" {
			msg.AvatarColor = fresh.AvatarColor
		}
	}

	e.deliver.Lock()
	defer e.deliver.Unlock()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	msg = e.appendLocked(msg)
	viewers := e.viewers
	observers, watchers := e.subscribersLocked()
	e.mu.Unlock()
	notify(observers, watchers, &msg, viewers)

	telemetry.RecordChatMessage(string(OriginSynthesized))
}

// ReceiveTranscript takes a finished caption segment from the host. It becomes the author
// message of the next synthesis request and spikes the viewer count with probability 0.3.
func (e *Engine) ReceiveTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	e.deliver.Lock()
	e.mu.Lock()
	e.lastTranscript = text
	spiked := e.rnd.Float64() < transcriptSpikeChance
	if spiked {
		e.spikeLocked()
	}
	viewers := e.viewers
	_, watchers := e.subscribersLocked()
	e.mu.Unlock()
	if spiked {
		notify(nil, watchers, nil, viewers)
	}
	e.deliver.Unlock()

	e.requestSynthesis(e.synthContext(text))
}

// LastTranscript returns the most recent transcript segment received.
func (e *Engine) LastTranscript() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTranscript
}

// Subscribe registers o. The returned function unsubscribes it.
func (e *Engine) Subscribe(o Observer) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.observers = append(e.observers, subscriber[Observer]{id: id, fn: o})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.observers = removeSub(e.observers, id)
	}
}

// WatchViewers registers fn to be called with every new viewer count.
func (e *Engine) WatchViewers(fn func(int)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.watchers = append(e.watchers, subscriber[func(int)]{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.watchers = removeSub(e.watchers, id)
	}
}

// Messages returns a copy of the message sequence in insertion order.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Len returns the number of appended messages.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.messages)
}

func (e *Engine) appendLocked(msg Message) Message {
	now := e.group.Now()
	if now.Before(e.lastCreated) {
		now = e.lastCreated
	}
	e.lastCreated = now
	msg.CreatedAt = now
	e.messages = append(e.messages, msg)
	e.clampViewersLocked()
	return msg
}

func (e *Engine) subscribersLocked() ([]subscriber[Observer], []subscriber[func(int)]) {
	obs := make([]subscriber[Observer], len(e.observers))
	copy(obs, e.observers)
	ws := make([]subscriber[func(int)], len(e.watchers))
	copy(ws, e.watchers)
	return obs, ws
}

func notify(observers []subscriber[Observer], watchers []subscriber[func(int)], msg *Message, viewers int) {
	if msg != nil {
		for _, o := range observers {
			o.fn.OnMessage(*msg)
		}
	}
	for _, w := range watchers {
		w.fn(viewers)
	}
}

func removeSub[T any](subs []subscriber[T], id int) []subscriber[T] {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

func (e *Engine) requestSynthesis(sc synth.Context) {
	if e.opts.Synth == nil {
		return
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	go func() {
		comments, err := e.opts.Synth.Synthesize(e.ctx, sc)
		if err != nil {
			// cosmetic feature: drop the attempt, no retry
			if !errors.Is(err, context.Canceled) {
				e.log.Debug("synthesis dropped", slog.Any("err", err))
			}
			return
		}
		if e.ctx.Err() != nil {
			return
		}
		e.ReceiveSynthesizedBatch(comments)
	}()
}
