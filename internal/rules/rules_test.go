package rules

import "testing"

func TestSubjectMatches(t *testing.T) {
	r := NewSubjectRule("Training Exercise")
	cases := []struct {
		subject string
		want    bool
	}{
		{"Training Exercise", true},
		{"  Training Exercise  ", true},
		{"Re: Training Exercise", true},
		{"Fwd: Re: Training Exercise", true},
		{"Training Exercise Debrief", false},
		{"training exercise", false},
		{"Unrelated", false},
		{"", false},
		{"   ", false},
	}
	for _, tc := range cases {
		if got := r.Matches(tc.subject); got != tc.want {
			t.Errorf("Matches(%q) = %v, want %v", tc.subject, got, tc.want)
		}
	}
}

func TestDefaultPhrase(t *testing.T) {
	r := NewSubjectRule("")
	if r.Phrase() != DefaultPhrase {
		t.Errorf("Phrase() = %q, want %q", r.Phrase(), DefaultPhrase)
	}
	if !r.Matches(DefaultPhrase) {
		t.Errorf("Matches(%q) = false, want true", DefaultPhrase)
	}
}

func TestQuery(t *testing.T) {
	r := NewSubjectRule("Training Exercise")
	want := `subject:"Training Exercise"`
	if got := r.Query(); got != want {
		t.Errorf("Query() = %q, want %q", got, want)
	}
}
