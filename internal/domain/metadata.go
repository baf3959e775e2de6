package domain

import (
	"encoding/json"
	"fmt"
)

// Known metadata keys
const (
	MetadataKeyForce       = "force"
	MetadataKeyRequestedBy = "requested_by"
	MetadataKeyReason      = "reason"
)

// TaskMetadata carries the options attached to a task. Known options are
// typed fields; anything else round-trips through Extra so newer producers
// can add keys without a schema change. The JSON form is a single flat object.
type TaskMetadata struct {
	Force       bool
	RequestedBy string
	Reason      string
	Extra       map[string]any
}

// MarshalJSON flattens known keys and extras into one object.
func (m TaskMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Force {
		out[MetadataKeyForce] = true
	}
	if m.RequestedBy != "" {
		out[MetadataKeyRequestedBy] = m.RequestedBy
	}
	if m.Reason != "" {
		out[MetadataKeyReason] = m.Reason
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits a flat object into known keys and extras.
// A null or empty payload yields zero metadata.
func (m *TaskMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: metadata must be a JSON object: %v", ErrValidation, err)
	}
	*m = TaskMetadata{}
	for k, v := range raw {
		switch k {
		case MetadataKeyForce:
			b, ok := v.(bool)
			if !ok {
				return NewValidationError("metadata.force", "must be a boolean", nil)
			}
			m.Force = b
		case MetadataKeyRequestedBy:
			s, ok := v.(string)
			if !ok {
				return NewValidationError("metadata.requested_by", "must be a string", nil)
			}
			m.RequestedBy = s
		case MetadataKeyReason:
			s, ok := v.(string)
			if !ok {
				return NewValidationError("metadata.reason", "must be a string", nil)
			}
			m.Reason = s
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
		}
	}
	return nil
}
