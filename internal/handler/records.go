package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/agentic-research/kgbuild/internal/stats"
)

// decodeRecords parses newline-delimited JSON statistic records. Unknown
// fields are rejected so that a handler reporting a different schema fails
// before anything reaches the ledger.
func decodeRecords(data []byte) ([]stats.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var records []stats.Record
	for line := 1; ; line++ {
		var r stats.Record
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", line, err)
		}
		if r.Filename == "" {
			return nil, fmt.Errorf("decode record %d: missing %s", line, stats.ColFilename)
		}
		records = append(records, r)
	}
}
