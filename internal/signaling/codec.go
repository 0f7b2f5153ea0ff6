package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
)

func encodeFields(fields Fields) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}

func decodeDescriptor(fields map[string]json.RawMessage) (*domain.SessionDescriptor, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var d domain.SessionDescriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode call document: %w", err)
	}
	return &d, nil
}

// terminal reports whether the stored document already reached declined or
// ended. Such documents take no further writes.
func terminal(fields map[string]json.RawMessage) bool {
	raw, ok := fields[domain.FieldStatus]
	if !ok {
		return false
	}
	var status domain.CallStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return false
	}
	return status.Terminal()
}
