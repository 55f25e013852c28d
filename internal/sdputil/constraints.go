package sdputil

// Constraints is a legacy capability request: mandatory key/value pairs and
// an ordered list of optional single-entry objects.
type Constraints struct {
	Mandatory map[string]any   `json:"mandatory,omitempty"`
	Optional  []map[string]any `json:"optional,omitempty"`
}

// MergeConstraints combines a and b. When either is nil the other is
// returned. Otherwise mandatory keys are unioned with b winning on
// collision, and optional entries are concatenated, a's first. Neither
// input is modified.
func MergeConstraints(a, b *Constraints) *Constraints {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}

	merged := &Constraints{
		Mandatory: make(map[string]any, len(a.Mandatory)+len(b.Mandatory)),
		Optional:  make([]map[string]any, 0, len(a.Optional)+len(b.Optional)),
	}
	for k, v := range a.Mandatory {
		merged.Mandatory[k] = v
	}
	for k, v := range b.Mandatory {
		merged.Mandatory[k] = v
	}
	merged.Optional = append(merged.Optional, a.Optional...)
	merged.Optional = append(merged.Optional, b.Optional...)
	return merged
}
