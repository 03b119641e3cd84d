package align

// Params are the operator-chosen corrections for one session. Shifts are
// whole pixels, rotation is degrees counterclockwise, scale is a positive
// factor with 1.0 meaning none.
type Params struct {
	XShift   int     `json:"x_shift"`
	YShift   int     `json:"y_shift"`
	Rotation float64 `json:"rotation"`
	Scale    float64 `json:"scale"`
}

// Identity returns the no-op transform.
func Identity() Params {
	return Params{Scale: 1.0}
}

// IsIdentity reports whether p changes nothing.
func (p Params) IsIdentity() bool {
	return p.XShift == 0 && p.YShift == 0 && p.Rotation == 0 && p.Scale == 1.0
}

// ParamSet holds every session's corrections plus the chosen reference
// session, which passes through export untransformed regardless of its entry
// here. Mutation goes through Set/SetReference only; background workers get a
// Clone and never touch the original.
type ParamSet struct {
	Reference int            `json:"ref_index"`
	Sessions  map[int]Params `json:"sessions"`
}

// NewParamSet returns an empty set referencing session 0.
func NewParamSet() *ParamSet {
	return &ParamSet{Sessions: make(map[int]Params)}
}

// Get returns the corrections for a session, defaulting to identity for
// sessions that were never adjusted.
func (s *ParamSet) Get(index int) Params {
	if p, ok := s.Sessions[index]; ok {
		return p
	}
	return Identity()
}

// Set stores the corrections for a session.
func (s *ParamSet) Set(index int, p Params) {
	if s.Sessions == nil {
		s.Sessions = make(map[int]Params)
	}
	s.Sessions[index] = p
}

// SetReference selects the session all others align to.
func (s *ParamSet) SetReference(index int) {
	s.Reference = index
}

// Ensure fills identity entries for sessions 0..n-1 that have none, so every
// discovered session has an explicit entry before an export runs.
func (s *ParamSet) Ensure(n int) {
	if s.Sessions == nil {
		s.Sessions = make(map[int]Params)
	}
	for i := 0; i < n; i++ {
		if _, ok := s.Sessions[i]; !ok {
			s.Sessions[i] = Identity()
		}
	}
}

// Clone returns an independent copy.
func (s *ParamSet) Clone() *ParamSet {
	out := &ParamSet{Reference: s.Reference, Sessions: make(map[int]Params, len(s.Sessions))}
	for k, v := range s.Sessions {
		out.Sessions[k] = v
	}
	return out
}
