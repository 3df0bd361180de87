// Package storage keeps one JSON file and an in-memory copy of it coherent.
//
// Writes only touch memory. Flush persists the cached document; concurrent
// flush requests collapse into a single debounced retry. Reads trust the
// cache for as long as the file fingerprint has not moved, so an unchanged
// file is parsed once.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"jsonkv/internal/fileops"
	"jsonkv/internal/fingerprint"
	"jsonkv/internal/logging"
	"jsonkv/internal/queue"
)

// DefaultDebounce is the delay before retrying a flush that found another
// flush in progress.
const DefaultDebounce = 100 * time.Millisecond

var (
	ErrAlreadyStarted  = errors.New("storage: periodic flush already started")
	ErrInvalidInterval = errors.New("storage: flush interval must be positive")
	ErrClosed          = errors.New("storage: closed")
)

var logger = logging.For("storage")

// Options configures a Storage. The zero value is usable.
type Options struct {
	FS          fileops.FS           // default fileops.OS
	Fingerprint fingerprint.Strategy // default fingerprint.Stat
	Debounce    time.Duration        // default DefaultDebounce

	// Serialize routes Read calls through one queue and Write calls through
	// another.
	Serialize bool
}

// Storage owns the cache, fingerprint and flush state of a single file.
// One Storage per path per process; there is no cross-process locking.
type Storage struct {
	path     string
	fsys     fileops.FS
	fp       fingerprint.Strategy
	debounce time.Duration

	readQ  *queue.Queue
	writeQ *queue.Queue

	// ioMu serializes physical mutations of the file (flush write, purge
	// delete). Lock order: ioMu before mu.
	ioMu sync.Mutex

	mu             sync.Mutex
	state          cacheState
	cache          Document
	fingerprint    fingerprint.Value
	hasFingerprint bool
	needsFlush     bool
	flushing       bool
	writeGen       uint64
	purgeGen       uint64
	closed         bool

	retry       *time.Timer
	retrySeq    uint64
	retryNotify bool

	loopMu   sync.Mutex
	loopStop chan struct{}
	loopDone chan struct{}

	listeners listeners
}

// New creates a Storage for path. Nothing is read until the first Read.
func New(path string, opts Options) *Storage {
	s := &Storage{
		path:     path,
		fsys:     opts.FS,
		fp:       opts.Fingerprint,
		debounce: opts.Debounce,
	}
	if s.fsys == nil {
		s.fsys = fileops.OS{}
	}
	if s.fp == nil {
		s.fp = fingerprint.Stat{}
	}
	if s.debounce <= 0 {
		s.debounce = DefaultDebounce
	}
	if opts.Serialize {
		s.readQ = queue.New()
		s.writeQ = queue.New()
	}
	return s
}

// Path returns the backing file path.
func (s *Storage) Path() string {
	return s.path
}

// NeedsFlush reports whether Write has changed the cache since the last
// successful flush.
func (s *Storage) NeedsFlush() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsFlush
}

// closedErr reports a task rejected by a closing queue as ErrClosed.
func closedErr(err error) error {
	if errors.Is(err, queue.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (s *Storage) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscribe registers fn for flush and purge events. The returned function
// removes it.
func (s *Storage) Subscribe(fn Listener) (unsubscribe func()) {
	return s.listeners.add(fn)
}

// Read returns the current document, or nil when there is none.
//
// A missing file means the cache is returned as-is, so pending unflushed
// writes read back. An unchanged fingerprint is a cache hit. Otherwise the
// file is loaded; empty or malformed content reads as nil.
func (s *Storage) Read(ctx context.Context) (Document, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if s.readQ != nil {
		doc, err := queue.Do(ctx, s.readQ, s.read)
		return doc, closedErr(err)
	}
	return s.read()
}

func (s *Storage) read() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	// The file is being rewritten from the cache; its bytes may be partial.
	if s.flushing {
		return cloneDocument(s.cache), nil
	}

	fp, ok, err := s.fp.Of(s.fsys, s.path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return cloneDocument(s.cache), nil
	}
	if s.state != stateUnloaded && s.hasFingerprint && fp == s.fingerprint {
		return cloneDocument(s.cache), nil
	}

	doc, state, err := s.load()
	if err != nil {
		return nil, err
	}
	s.cache, s.state = doc, state
	s.fingerprint, s.hasFingerprint = fp, true
	logger.Debug("document loaded", "path", s.path, "state", state, "fingerprint", fp)
	return cloneDocument(doc), nil
}

func (s *Storage) load() (Document, cacheState, error) {
	data, err := s.fsys.ReadFile(s.path)
	if err != nil {
		if fileops.IsNotExist(err) {
			return nil, stateAbsent, nil
		}
		return nil, stateUnloaded, fmt.Errorf("reading %s: %w", s.path, err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		logger.Warn("unreadable document treated as empty", "path", s.path, "err", err)
		return nil, stateAbsent, nil
	}
	if doc == nil {
		return nil, stateAbsent, nil
	}
	return doc, stateLoaded, nil
}

// Write replaces the cached document. It never writes the file; the
// fingerprint is refreshed from the file as it is now so that later reads
// can tell external edits from our own pending state.
func (s *Storage) Write(ctx context.Context, doc Document) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.writeQ != nil {
		_, err := queue.Do(ctx, s.writeQ, func() (struct{}, error) {
			return struct{}{}, s.write(doc)
		})
		return closedErr(err)
	}
	return s.write(doc)
}

func (s *Storage) write(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.cache, s.state = cloneDocument(doc), stateLoaded
	s.needsFlush = true
	s.writeGen++

	fp, ok, err := s.fp.Of(s.fsys, s.path)
	if err != nil {
		return err
	}
	s.fingerprint, s.hasFingerprint = fp, ok
	return nil
}

// Invalidate forces the next Read to reload from disk. Unflushed writes are
// discarded; discarded reports whether there were any.
func (s *Storage) Invalidate() (discarded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	discarded = s.needsFlush
	if discarded {
		logger.Warn("invalidate discards unflushed changes", "path", s.path)
	}
	s.cancelRetryLocked()
	s.cache, s.state = nil, stateUnloaded
	s.hasFingerprint = false
	s.needsFlush = false
	s.writeGen++
	return discarded
}

// Purge deletes the backing file and resets the in-memory state. It cancels
// a pending flush retry. Listeners get an EventPurge with the last cached
// document when there was a file to delete. A failed delete is logged and
// otherwise ignored. The Storage stays usable.
func (s *Storage) Purge() error {
	s.mu.Lock()
	s.cancelRetryLocked()
	last := s.cache
	s.resetLocked()
	s.mu.Unlock()

	s.ioMu.Lock()
	exists, err := s.fsys.Exists(s.path)
	s.ioMu.Unlock()
	if err != nil {
		return fmt.Errorf("purge %s: %w", s.path, err)
	}
	if !exists {
		return nil
	}

	s.emit(EventPurge, last)

	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsys.Remove(s.path); err != nil {
		logger.Debug("purge delete failed", "path", s.path, "err", err)
	}
	// A read may have cached the file while the event was delivered.
	s.resetLocked()
	logger.Info("purged", "path", s.path)
	return nil
}

func (s *Storage) resetLocked() {
	s.cache, s.state = nil, stateUnloaded
	s.hasFingerprint = false
	s.needsFlush = false
	s.purgeGen++
}

// Close stops periodic flushing, cancels a pending retry and releases the
// internal queues. It reports whether unflushed changes were left behind.
// Close does not flush; call Flush or FlushIfNeeded first.
func (s *Storage) Close() (unflushed bool) {
	s.Stop()

	s.mu.Lock()
	s.cancelRetryLocked()
	unflushed = s.needsFlush
	s.closed = true
	s.mu.Unlock()

	if s.readQ != nil {
		s.readQ.Close()
		s.writeQ.Close()
	}
	if unflushed {
		logger.Warn("closing with uncommitted changes; they are lost", "path", s.path)
	}
	return unflushed
}

func (s *Storage) emit(kind EventKind, doc Document) {
	s.listeners.emit(Event{
		ID:       newEventID(),
		Kind:     kind,
		Path:     s.path,
		Document: cloneDocument(doc),
		At:       time.Now(),
	})
}
