package idmapping

import (
	"encoding/json"
)

// documentFormatVersion is written to every persisted mapping document.
const documentFormatVersion = 1

// document is the on-disk JSON shape of the mapping file: a forward
// id -> path-string map plus bookkeeping. The reverse index is rebuilt
// in memory on load, never persisted.
type document struct {
	Version   int               `json:"version"`
	UpdatedAt int64             `json:"updated_at"`
	Entries   map[string]string `json:"entries"`
}

func newDocument() *document {
	return &document{
		Version: documentFormatVersion,
		Entries: make(map[string]string),
	}
}

func (d *document) marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

func unmarshalDocument(data []byte) (*document, error) {
	var d document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if d.Entries == nil {
		d.Entries = make(map[string]string)
	}
	return &d, nil
}
