package chat

import "time"

const (
	viewerBase          = 150
	viewerHeadroom      = 50
	viewerInitialSpread = 100
	viewerWalkStep      = 5
	spikeMin            = 10
	spikeSpread         = 41 // spikes are 10..50 inclusive

	transcriptSpikeChance = 0.3

	defaultViewerWalkInterval = 3 * time.Second
	defaultRelaySynthInterval = 20 * time.Second
)

// ViewerFloor is the lowest viewer count shown for a session holding messages messages.
func ViewerFloor(messages int) int {
	return max(viewerBase, messages+viewerHeadroom)
}

// Viewers returns the displayed viewer count.
func (e *Engine) Viewers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewers
}

func (e *Engine) clampViewersLocked() {
	if floor := ViewerFloor(len(e.messages)); e.viewers < floor {
		e.viewers = floor
	}
}

func (e *Engine) spikeLocked() int {
	n := spikeMin + e.rnd.Intn(spikeSpread)
	e.viewers += n
	return n
}

// walkViewers applies one step of the bounded random walk.
func (e *Engine) walkViewers() {
	e.deliver.Lock()
	defer e.deliver.Unlock()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.viewers += e.rnd.Intn(2*viewerWalkStep+1) - viewerWalkStep
	e.clampViewersLocked()
	viewers := e.viewers
	_, watchers := e.subscribersLocked()
	e.mu.Unlock()
	notify(nil, watchers, nil, viewers)
}
