package caption

import (
	"context"
	"errors"
	"sync"
)

// ErrNotStarted is returned by Push when no stream is running.
var ErrNotStarted = errors.New("caption: recognizer not started")

const pushBuffer = 32

// PushRecognizer is a Recognizer fed from outside, typically by the host's client which
// runs speech recognition locally and posts results to the server.
type PushRecognizer struct {
	mu        sync.Mutex
	available bool
	ch        chan Result
}

// NewPushRecognizer returns a recognizer. When available is false, Start reports
// ErrRecognitionUnavailable.
func NewPushRecognizer(available bool) *PushRecognizer {
	return &PushRecognizer{available: available}
}

// SetAvailable records whether the host has speech recognition.
func (p *PushRecognizer) SetAvailable(available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = available
}

// Start implements Recognizer. The stream also ends when ctx is cancelled.
func (p *PushRecognizer) Start(ctx context.Context) (<-chan Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.available {
		return nil, ErrRecognitionUnavailable
	}
	if p.ch != nil {
		return nil, errors.New("caption: recognizer already started")
	}
	ch := make(chan Result, pushBuffer)
	p.ch = ch
	go func() {
		<-ctx.Done()
		p.closeStream(ch)
	}()
	return ch, nil
}

// Stop implements Recognizer.
func (p *PushRecognizer) Stop() error {
	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()
	if ch != nil {
		p.closeStream(ch)
	}
	return nil
}

func (p *PushRecognizer) closeStream(ch chan Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		close(ch)
		p.ch = nil
	}
}

// Push delivers one result. Results are dropped when the stream is saturated.
func (p *PushRecognizer) Push(r Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return ErrNotStarted
	}
	select {
	case p.ch <- r:
	default:
	}
	return nil
}
