package definition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ParseJSON decodes a JSON definition. Unknown fields and trailing data are
// rejected.
func ParseJSON(src []byte) (*Batch, error) {
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.DisallowUnknownFields()

	var b Batch
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode JSON definition: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode JSON definition: unexpected data after the batch object")
	}
	return &b, nil
}
