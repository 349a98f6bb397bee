package meeting

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseVoteValue(t *testing.T) {
	for _, valid := range []string{"no", "maybe", "yes"} {
		v, err := ParseVoteValue(valid)
		if err != nil {
			t.Fatalf("ParseVoteValue(%q): %v", valid, err)
		}
		if string(v) != valid {
			t.Fatalf("ParseVoteValue(%q) = %q", valid, v)
		}
	}
	for _, invalid := range []string{"", "YES", "ok", "abstain"} {
		if _, err := ParseVoteValue(invalid); !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseVoteValue(%q): got %v, want ErrValidation", invalid, err)
		}
	}
}

func TestDateJSONRoundTrip(t *testing.T) {
	d, err := ParseDate("2026-09-12")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"2026-09-12"` {
		t.Fatalf("unexpected encoding %s", raw)
	}

	var back Date
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(d) {
		t.Fatalf("round trip changed date: %s != %s", back, d)
	}
}

func TestDateRejectsTimeComponent(t *testing.T) {
	for _, bad := range []string{"2026-09-12T10:00:00Z", "12.09.2026", "2026-13-01", ""} {
		var d Date
		if err := json.Unmarshal([]byte(`"`+bad+`"`), &d); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
