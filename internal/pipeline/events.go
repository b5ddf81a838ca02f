package pipeline

import (
	"sync"

	"github.com/kozaktomas/album-curator/internal/constants"
)

// Event is sent to listeners whenever a job changes state.
type Event struct {
	Type    string    `json:"type"`
	Message string    `json:"message,omitempty"`
	Data    *JobState `json:"data,omitempty"`
}

// Event types.
const (
	EventStatus = "status"
	EventError  = "error"
	EventDone   = "done"
)

// Broadcaster fans job events out to per-album listeners.
type Broadcaster struct {
	listeners map[string][]chan Event
	mu        sync.RWMutex
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[string][]chan Event)}
}

// AddListener adds an event listener for an album.
func (b *Broadcaster) AddListener(albumID string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners[albumID] = append(b.listeners[albumID], ch)
	return ch
}

// RemoveListener removes and closes an event listener.
func (b *Broadcaster) RemoveListener(albumID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.listeners[albumID]
	for i, listener := range list {
		if listener == ch {
			b.listeners[albumID] = append(list[:i], list[i+1:]...)
			if len(b.listeners[albumID]) == 0 {
				delete(b.listeners, albumID)
			}
			close(ch)
			return
		}
	}
}

// Send delivers an event to every listener of the album.
func (b *Broadcaster) Send(albumID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners[albumID] {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

func eventFor(s JobState) Event {
	st := s
	switch s.Status {
	case StatusError:
		return Event{Type: EventError, Message: s.Error, Data: &st}
	case StatusDone:
		return Event{Type: EventDone, Data: &st}
	default:
		return Event{Type: EventStatus, Message: string(s.Status), Data: &st}
	}
}
