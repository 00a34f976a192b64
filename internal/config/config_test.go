package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitUsers(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a@example.com", []string{"a@example.com"}},
		{"a@example.com, b@example.com ,,c@example.com", []string{"a@example.com", "b@example.com", "c@example.com"}},
		{" , ", nil},
	}
	for _, tc := range cases {
		if diff := cmp.Diff(tc.want, splitUsers(tc.in)); diff != "" {
			t.Errorf("splitUsers(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		TeamUsers:    []string{"a@example.com"},
		StoreBackend: "memory",
	}
	if err := valid.validate(); err != nil {
		t.Errorf("validate() = %v, want nil", err)
	}

	noTeam := Config{StoreBackend: "memory"}
	if err := noTeam.validate(); err == nil {
		t.Error("validate() with empty roster = nil, want error")
	}

	badBackend := Config{TeamUsers: []string{"a@example.com"}, StoreBackend: "redis"}
	if err := badBackend.validate(); err == nil {
		t.Error("validate() with unknown backend = nil, want error")
	}

	firestoreNoProject := Config{TeamUsers: []string{"a@example.com"}, StoreBackend: "firestore"}
	if err := firestoreNoProject.validate(); err == nil {
		t.Error("validate() firestore without project = nil, want error")
	}
}
