package audit

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"jsonkv/internal/storage"
	boltstore "jsonkv/internal/store/bolt"
)

func tempStore(t *testing.T) *boltstore.Store {
	t.Helper()
	st, err := boltstore.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRecorderCapturesFlushAndPurge(t *testing.T) {
	rec := NewRecorder(tempStore(t), 0)
	s := storage.New(filepath.Join(t.TempDir(), "data.json"), storage.Options{})
	defer s.Close()
	detach := rec.Attach(s)
	defer detach()

	ctx := context.Background()
	if err := s.Write(ctx, storage.Document{"foo": "bar"}); err != nil {
		t.Fatal(err)
	}
	if err := s.FlushIfNeeded(); err != nil {
		t.Fatal(err)
	}
	if err := s.Purge(); err != nil {
		t.Fatal(err)
	}

	records, err := rec.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Kind != storage.EventFlush || records[1].Kind != storage.EventPurge {
		t.Fatalf("kinds = %s, %s; want flush then purge", records[0].Kind, records[1].Kind)
	}
	for _, r := range records {
		if r.Path != s.Path() {
			t.Errorf("path = %q, want %q", r.Path, s.Path())
		}
		if !reflect.DeepEqual(r.Document, storage.Document{"foo": "bar"}) {
			t.Errorf("%s document = %v", r.Kind, r.Document)
		}
		if r.At.IsZero() {
			t.Errorf("%s record has no timestamp", r.Kind)
		}
	}

	got, ok, err := rec.Get(records[1].ID)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Kind != storage.EventPurge {
		t.Fatalf("Get kind = %s", got.Kind)
	}
	if _, ok, err := rec.Get(uuid.New()); err != nil || ok {
		t.Fatalf("Get unknown id = %v, %v", ok, err)
	}
}

func TestRecordRoundTripNilDocument(t *testing.T) {
	rec := NewRecorder(tempStore(t), 0)
	id := uuid.Must(uuid.NewV7())
	at := time.Date(2026, 10, 19, 12, 0, 0, 123, time.UTC)
	ev := storage.Event{ID: id, Kind: storage.EventPurge, Path: "/tmp/x.json", At: at}
	if err := rec.Record(ev); err != nil {
		t.Fatal(err)
	}
	got, ok, err := rec.Get(id)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Document != nil {
		t.Fatalf("nil document should stay nil, got %v", got.Document)
	}
	if !got.At.Equal(at) {
		t.Fatalf("At = %s, want %s", got.At, at)
	}
}

func TestRecorderPrunesOldest(t *testing.T) {
	rec := NewRecorder(tempStore(t), 3)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		id := uuid.Must(uuid.NewV7())
		ids = append(ids, id)
		ev := storage.Event{ID: id, Kind: storage.EventFlush, Path: "p", At: time.Now()}
		if err := rec.Record(ev); err != nil {
			t.Fatal(err)
		}
	}
	records, err := rec.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	for i, r := range records {
		if r.ID != ids[i+2] {
			t.Fatalf("record %d = %s, want %s (newest kept, in order)", i, r.ID, ids[i+2])
		}
	}
}

func TestListSkipsCorruptRecords(t *testing.T) {
	st := tempStore(t)
	rec := NewRecorder(st, 0)
	if err := st.Put(eventsBucket, []byte("garbage"), []byte{0xff, 0x00, 0x13}); err != nil {
		t.Fatal(err)
	}
	ev := storage.Event{ID: uuid.Must(uuid.NewV7()), Kind: storage.EventFlush, Path: "p", At: time.Now()}
	if err := rec.Record(ev); err != nil {
		t.Fatal(err)
	}
	records, err := rec.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != ev.ID {
		t.Fatalf("records = %+v, want only the valid one", records)
	}
}

func TestRecordRejectsUnencodableDocument(t *testing.T) {
	rec := NewRecorder(tempStore(t), 0)
	ev := storage.Event{
		ID:       uuid.Must(uuid.NewV7()),
		Kind:     storage.EventFlush,
		At:       time.Now(),
		Document: storage.Document{"ch": make(chan int)},
	}
	if err := rec.Record(ev); err == nil {
		t.Fatal("expected an encoding error")
	}
}
