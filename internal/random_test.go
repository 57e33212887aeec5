package internal

import "testing"

func TestSessionIDRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}
	parsed, err := ParseSessionID(sid.String())
	if err != nil {
		t.Fatalf("ParseSessionID: %v", err)
	}
	if parsed != sid {
		t.Fatal("round trip mismatch")
	}
	if len(sid.String()) != 22 {
		t.Fatalf("unexpected encoded length %d", len(sid.String()))
	}
}

func TestParseSessionIDRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "short", "!!!!!!!!!!!!!!!!!!!!!!", "AAAAAAAAAAAAAAAAAAAAAAAA"} {
		if ValidSessionID(in) {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}

func TestNewStateUnique(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		s, err := NewState()
		if err != nil {
			t.Fatalf("NewState: %v", err)
		}
		if len(s) != 32 {
			t.Fatalf("unexpected state length %d", len(s))
		}
		if _, dup := seen[s]; dup {
			t.Fatal("duplicate state")
		}
		seen[s] = struct{}{}
	}
}
