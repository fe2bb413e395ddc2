package room

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	ErrRoomNotFound = errors.New("room: not found")
	ErrInvalidName  = errors.New("room: invalid name")
)

var roomNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// NormalizeName lower-cases and validates a room name.
func NormalizeName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !roomNameRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// Manager keeps one Controller per room name.
type Manager struct {
	deps Deps

	mu    sync.Mutex
	rooms map[string]*Controller
}

// NewManager returns an empty registry whose rooms share deps.
func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, rooms: make(map[string]*Controller)}
}

// Open returns the controller of name, creating an idle one if needed.
func (m *Manager) Open(name string) (*Controller, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rooms[name]; ok {
		return c, nil
	}
	c := NewController(name, m.deps)
	m.rooms[name] = c
	return c, nil
}

// Get returns an existing controller.
func (m *Manager) Get(name string) (*Controller, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rooms[name]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return c, nil
}

// Close ends the room's session if any, closes its hub and forgets it.
func (m *Manager) Close(name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	c, ok := m.rooms[name]
	delete(m.rooms, name)
	m.mu.Unlock()
	if !ok {
		return ErrRoomNotFound
	}
	shutdown(c)
	return nil
}

// CloseAll closes every room. Used on process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Controller)
	m.mu.Unlock()
	for _, c := range rooms {
		shutdown(c)
	}
	if len(rooms) > 0 {
		slog.Info("rooms closed", slog.String("component", "room"), slog.Int("count", len(rooms)))
	}
}

func shutdown(c *Controller) {
	if err := c.End(); err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Warn("room disconnect failed", slog.Any("err", err))
	}
	c.hub.Close()
}

// List returns a snapshot of every room sorted by name.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	rooms := make([]*Controller, 0, len(m.rooms))
	for _, c := range m.rooms {
		rooms = append(rooms, c)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(rooms))
	for _, c := range rooms {
		out = append(out, c.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

// RelayTo returns a function delivering relayed chat into room name. Messages are
// dropped with ErrNotConnected while the room has no live session.
func (m *Manager) RelayTo(name string) func(displayName, body string) error {
	return func(displayName, body string) error {
		c, err := m.Get(name)
		if err != nil {
			return err
		}
		return c.Relay(displayName, body)
	}
}
