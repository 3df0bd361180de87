package storage

import (
	"fmt"
	"time"

	"jsonkv/internal/fileops"
)

// Flush writes the cached document to the file. It is a no-op when nothing
// changed since the last flush. When another flush is still writing, Flush
// schedules a single retry after the debounce delay (replacing any earlier
// one) and returns nil.
func (s *Storage) Flush() error {
	_, err := s.flush(false)
	return err
}

// FlushIfNeeded flushes pending changes and notifies listeners with an
// EventFlush. This is what the periodic loop runs.
func (s *Storage) FlushIfNeeded() error {
	wrote, err := s.flush(true)
	if err != nil {
		return err
	}
	if wrote {
		s.emitFlush()
	}
	return nil
}

func (s *Storage) emitFlush() {
	s.mu.Lock()
	doc := s.cache
	s.mu.Unlock()
	s.emit(EventFlush, doc)
}

func (s *Storage) flush(notify bool) (wrote bool, err error) {
	s.mu.Lock()
	if !s.needsFlush {
		s.mu.Unlock()
		return false, nil
	}
	if s.flushing {
		s.scheduleRetryLocked(notify)
		s.mu.Unlock()
		return false, nil
	}
	s.flushing = true
	doc, gen, pgen := s.cache, s.writeGen, s.purgeGen
	s.mu.Unlock()

	return s.persist(doc, gen, pgen)
}

// persist writes doc, the cache snapshot taken at write generation gen.
// Write replaces the cache map rather than mutating it, so doc is stable.
func (s *Storage) persist(doc Document, gen, pgen uint64) (bool, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		s.endFlush()
		return false, err
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.mu.Lock()
	purged := s.purgeGen != pgen
	s.mu.Unlock()
	if purged {
		s.endFlush()
		return false, nil
	}

	if err := fileops.EnsureParent(s.fsys, s.path); err != nil {
		s.endFlush()
		return false, fmt.Errorf("flush: %w", err)
	}
	if err := s.fsys.WriteFile(s.path, data); err != nil {
		s.endFlush()
		return false, fmt.Errorf("flush %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushing = false
	if s.writeGen == gen {
		s.needsFlush = false
	}
	fp, ok, err := s.fp.Of(s.fsys, s.path)
	if err != nil {
		s.hasFingerprint = false
		return true, err
	}
	s.fingerprint, s.hasFingerprint = fp, ok
	logger.Debug("flushed", "path", s.path, "bytes", len(data), "fingerprint", fp)
	return true, nil
}

func (s *Storage) endFlush() {
	s.mu.Lock()
	s.flushing = false
	s.mu.Unlock()
}

func (s *Storage) scheduleRetryLocked(notify bool) {
	if s.retry != nil {
		s.retry.Stop()
	}
	s.retrySeq++
	seq := s.retrySeq
	s.retryNotify = s.retryNotify || notify
	s.retry = time.AfterFunc(s.debounce, func() { s.runRetry(seq) })
}

func (s *Storage) cancelRetryLocked() {
	s.retrySeq++
	s.retryNotify = false
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *Storage) runRetry(seq uint64) {
	s.mu.Lock()
	if seq != s.retrySeq || s.closed {
		s.mu.Unlock()
		return
	}
	notify := s.retryNotify
	s.retry, s.retryNotify = nil, false
	s.mu.Unlock()

	wrote, err := s.flush(notify)
	if err != nil {
		logger.Error("deferred flush failed", "path", s.path, "err", err)
		return
	}
	if !notify {
		return
	}
	if !wrote {
		// The flush that was in progress may already have persisted the
		// changes this retry was owed. A reschedule or a purge bumps
		// retrySeq and takes over the notification.
		s.mu.Lock()
		covered := seq == s.retrySeq && !s.needsFlush
		s.mu.Unlock()
		if !covered {
			return
		}
	}
	s.emitFlush()
}

// Start runs FlushIfNeeded every interval in a background goroutine.
// Starting an already started Storage is an error.
func (s *Storage) Start(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.loopStop != nil {
		return ErrAlreadyStarted
	}
	s.loopStop = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.flushLoop(interval, s.loopStop, s.loopDone)
	return nil
}

// Stop ends periodic flushing and waits for the loop to exit. Stopping a
// stopped Storage does nothing.
func (s *Storage) Stop() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.loopStop == nil {
		return
	}
	close(s.loopStop)
	<-s.loopDone
	s.loopStop, s.loopDone = nil, nil
}

func (s *Storage) flushLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.FlushIfNeeded(); err != nil {
				logger.Error("periodic flush failed", "path", s.path, "err", err)
			}
		case <-stop:
			return
		}
	}
}
