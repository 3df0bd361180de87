package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// Document is the deserialized content of the backing file.
type Document map[string]any

type cacheState int

const (
	stateUnloaded cacheState = iota // never read, or invalidated
	stateAbsent                     // file missing, empty or unparsable
	stateLoaded
)

func (c cacheState) String() string {
	switch c {
	case stateAbsent:
		return "absent"
	case stateLoaded:
		return "loaded"
	default:
		return "unloaded"
	}
}

// decodeDocument parses raw file content. Empty content and JSON null
// decode to a nil Document with no error.
func decodeDocument(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

func encodeDocument(doc Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return data, nil
}

// Shallow: nested maps and slices are shared.
func cloneDocument(doc Document) Document {
	return maps.Clone(doc)
}
