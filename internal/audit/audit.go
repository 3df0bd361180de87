// Package audit records storage flush and purge events in a store.Store.
// Records are protobuf-encoded google.protobuf.Struct messages keyed by the
// event's UUIDv7, so iteration is chronological.
package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"jsonkv/internal/logging"
	"jsonkv/internal/storage"
	"jsonkv/internal/store"
)

// DefaultKeep is the retention used when NewRecorder gets keep <= 0.
const DefaultKeep = 1000

var eventsBucket = []byte("events")

var logger = logging.For("audit")

// Record is one persisted storage event.
type Record struct {
	ID       uuid.UUID
	Kind     storage.EventKind
	Path     string
	At       time.Time
	Document storage.Document
}

// Subscriber is implemented by storage.Storage and kv.Store.
type Subscriber interface {
	Subscribe(storage.Listener) (unsubscribe func())
}

// Recorder appends events to st and keeps the newest keep records.
type Recorder struct {
	st   store.Store
	keep int
}

func NewRecorder(st store.Store, keep int) *Recorder {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Recorder{st: st, keep: keep}
}

// Attach subscribes the recorder to src. Failures to record are logged and
// never reach the storage operation that emitted the event.
func (r *Recorder) Attach(src Subscriber) (detach func()) {
	return src.Subscribe(func(ev storage.Event) {
		if err := r.Record(ev); err != nil {
			logger.Error("recording event", "kind", ev.Kind, "path", ev.Path, "err", err)
		}
	})
}

// Record persists ev and prunes old records beyond the retention limit.
func (r *Recorder) Record(ev storage.Event) error {
	data, err := encodeRecord(Record{
		ID:       ev.ID,
		Kind:     ev.Kind,
		Path:     ev.Path,
		At:       ev.At,
		Document: ev.Document,
	})
	if err != nil {
		return err
	}
	if err := r.st.Put(eventsBucket, ev.ID[:], data); err != nil {
		return fmt.Errorf("storing audit record: %w", err)
	}
	if n, err := r.st.Prune(eventsBucket, r.keep); err != nil {
		logger.Warn("pruning audit records", "err", err)
	} else if n > 0 {
		logger.Debug("pruned audit records", "removed", n)
	}
	return nil
}

// Get returns the record with the given id, or false if it is unknown.
func (r *Recorder) Get(id uuid.UUID) (Record, bool, error) {
	data, err := r.st.Get(eventsBucket, id[:])
	if err != nil || data == nil {
		return Record{}, false, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// List returns all records, oldest first. Corrupt records are skipped.
func (r *Recorder) List() ([]Record, error) {
	var out []Record
	err := r.st.ForEach(eventsBucket, func(key, value []byte) error {
		rec, err := decodeRecord(value)
		if err != nil {
			logger.Warn("skipping corrupt audit record", "key", fmt.Sprintf("%x", key), "err", err)
			return nil
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func encodeRecord(rec Record) ([]byte, error) {
	var doc any
	if rec.Document != nil {
		doc = map[string]any(rec.Document)
	}
	st, err := structpb.NewStruct(map[string]any{
		"id":       rec.ID.String(),
		"kind":     string(rec.Kind),
		"path":     rec.Path,
		"at":       rec.At.UTC().Format(time.RFC3339Nano),
		"document": doc,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding audit record: %w", err)
	}
	return proto.Marshal(st)
}

func decodeRecord(data []byte) (Record, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Record{}, fmt.Errorf("decoding audit record: %w", err)
	}
	fields := st.GetFields()
	id, err := uuid.Parse(fields["id"].GetStringValue())
	if err != nil {
		return Record{}, fmt.Errorf("audit record id: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, fields["at"].GetStringValue())
	if err != nil {
		return Record{}, fmt.Errorf("audit record time: %w", err)
	}
	rec := Record{
		ID:   id,
		Kind: storage.EventKind(fields["kind"].GetStringValue()),
		Path: fields["path"].GetStringValue(),
		At:   at,
	}
	if doc := fields["document"].GetStructValue(); doc != nil {
		rec.Document = storage.Document(doc.AsMap())
	}
	return rec, nil
}
