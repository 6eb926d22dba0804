package sourceid

import "testing"

func TestRegistryDenseMapping(t *testing.T) {
	// Sparse IDs must map onto contiguous indices in declaration order.
	r, err := NewRegistry([]uint8{2, 5, 7})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if r.NumSources() != 3 {
		t.Errorf("NumSources = %d, want 3", r.NumSources())
	}

	cases := []struct {
		id    uint8
		index int
	}{
		{2, 0},
		{5, 1},
		{7, 2},
	}
	for _, c := range cases {
		idx, ok := r.Resolve(c.id)
		if !ok {
			t.Errorf("Resolve(0x%02x) not found", c.id)
			continue
		}
		if idx != c.index {
			t.Errorf("Resolve(0x%02x) = %d, want %d", c.id, idx, c.index)
		}
		back, ok := r.SourceIDOf(c.index)
		if !ok || back != c.id {
			t.Errorf("SourceIDOf(%d) = 0x%02x, %v, want 0x%02x", c.index, back, ok, c.id)
		}
	}
}

func TestRegistryUnknownSource(t *testing.T) {
	r, err := NewRegistry([]uint8{0x04, 0x10})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if _, ok := r.Resolve(0x33); ok {
		t.Error("Resolve(0x33) succeeded for an unregistered ID")
	}
	if _, ok := r.SourceIDOf(2); ok {
		t.Error("SourceIDOf(2) succeeded beyond registered range")
	}
	if _, ok := r.SourceIDOf(-1); ok {
		t.Error("SourceIDOf(-1) succeeded for negative index")
	}
}

func TestRegistryDuplicateID(t *testing.T) {
	if _, err := NewRegistry([]uint8{4, 4}); err == nil {
		t.Error("expected error for duplicate source ID")
	}
}

func TestRegistrySourceIDsCopy(t *testing.T) {
	r, err := NewRegistry([]uint8{9, 3})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	ids := r.SourceIDs()
	ids[0] = 0xFF
	if got, _ := r.SourceIDOf(0); got != 9 {
		t.Errorf("registry mutated through SourceIDs copy: got 0x%02x", got)
	}
}
