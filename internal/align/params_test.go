package align

import (
	"encoding/json"
	"testing"
)

func TestParamSetDefaultsToIdentity(t *testing.T) {
	s := NewParamSet()
	if s.Reference != 0 {
		t.Fatalf("Reference = %d, want 0", s.Reference)
	}
	if got := s.Get(3); !got.IsIdentity() {
		t.Fatalf("Get(3) = %+v, want identity", got)
	}
}

func TestParamSetSetAndGet(t *testing.T) {
	s := NewParamSet()
	p := Params{XShift: -4, YShift: 2, Rotation: 1.5, Scale: 0.98}
	s.Set(1, p)
	if got := s.Get(1); got != p {
		t.Fatalf("Get(1) = %+v, want %+v", got, p)
	}
	if got := s.Get(0); !got.IsIdentity() {
		t.Fatalf("Get(0) = %+v, want identity", got)
	}
}

func TestParamSetEnsure(t *testing.T) {
	s := NewParamSet()
	s.Set(1, Params{XShift: 7, Scale: 1})
	s.Ensure(3)
	if len(s.Sessions) != 3 {
		t.Fatalf("len(Sessions) = %d, want 3", len(s.Sessions))
	}
	if got := s.Sessions[1].XShift; got != 7 {
		t.Fatalf("Ensure overwrote session 1: XShift = %d", got)
	}
	if !s.Sessions[0].IsIdentity() || !s.Sessions[2].IsIdentity() {
		t.Fatal("Ensure should fill missing sessions with identity")
	}
}

func TestParamSetCloneIsIndependent(t *testing.T) {
	s := NewParamSet()
	s.SetReference(2)
	s.Set(0, Params{Rotation: 90, Scale: 1})

	c := s.Clone()
	c.Set(0, Params{Scale: 1})
	c.SetReference(0)

	if s.Reference != 2 {
		t.Fatalf("original Reference = %d, want 2", s.Reference)
	}
	if got := s.Get(0).Rotation; got != 90 {
		t.Fatalf("original session 0 rotation = %g, want 90", got)
	}
}

func TestParamSetJSONShape(t *testing.T) {
	s := NewParamSet()
	s.SetReference(1)
	s.Set(2, Params{XShift: 3, YShift: -1, Rotation: 0.5, Scale: 1.02})

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	for _, key := range []string{"ref_index", "sessions"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("marshaled set missing %q: %s", key, raw)
		}
	}

	var back ParamSet
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Reference != 1 {
		t.Fatalf("Reference = %d, want 1", back.Reference)
	}
	if got := back.Get(2); got != s.Get(2) {
		t.Fatalf("session 2 = %+v, want %+v", got, s.Get(2))
	}
}
