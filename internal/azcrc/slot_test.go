package azcrc

import "testing"

func TestHashTagExtraction(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"foo{bar}baz", "bar"},
		{"foo{}bar", "foo{}bar"},
		{"foo{bar", "foo{bar"},
		{"{bar}", "bar"},
		{"plain", "plain"},
		{"a{b}c{d}e", "b"},
	}
	for _, tc := range cases {
		got := string(HashTag([]byte(tc.key)))
		if got != tc.want {
			t.Errorf("HashTag(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

// Known-good slot values per the Redis Cluster spec's test vectors.
func TestSlotKnownVectors(t *testing.T) {
	cases := []struct {
		key  string
		slot uint16
	}{
		{"123456789", 12739},
	}
	for _, tc := range cases {
		if got := Slot([]byte(tc.key)); got != tc.slot {
			t.Errorf("Slot(%q) = %d, want %d", tc.key, got, tc.slot)
		}
	}
}

func TestSlotInRange(t *testing.T) {
	for _, k := range []string{"a", "foo", "{tag}key", "another-key-12345"} {
		s := Slot([]byte(k))
		if s >= SlotCount {
			t.Errorf("Slot(%q) = %d out of range", k, s)
		}
	}
}

func TestSlotTagForcesCollocation(t *testing.T) {
	a := Slot([]byte("user:{42}:profile"))
	b := Slot([]byte("user:{42}:settings"))
	if a != b {
		t.Errorf("tagged keys must share a slot: got %d and %d", a, b)
	}
}
