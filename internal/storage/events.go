package storage

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind names a storage notification.
type EventKind string

const (
	EventFlush EventKind = "flush"
	EventPurge EventKind = "purge"
)

// Event is delivered to listeners after a periodic flush or before a purge
// deletes the file. Document is the in-memory document at that moment.
type Event struct {
	ID       uuid.UUID
	Kind     EventKind
	Path     string
	Document Document
	At       time.Time
}

// Listener receives events synchronously, in registration order. It must not
// call Stop or Close on the Storage that emitted the event.
type Listener func(Event)

type subscription struct {
	fn Listener
}

type listeners struct {
	mu   sync.RWMutex
	subs []*subscription
}

func (l *listeners) add(fn Listener) func() {
	sub := &subscription{fn: fn}
	l.mu.Lock()
	l.subs = append(l.subs, sub)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.subs = slices.DeleteFunc(l.subs, func(s *subscription) bool { return s == sub })
		})
	}
}

func (l *listeners) emit(ev Event) {
	l.mu.RLock()
	subs := slices.Clone(l.subs)
	l.mu.RUnlock()
	for _, sub := range subs {
		sub.fn(ev)
	}
}

// newEventID returns a time-ordered UUIDv7, falling back to a random v4.
func newEventID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
