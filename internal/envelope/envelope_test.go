package envelope

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestParseValid(t *testing.T) {
	data := []byte(`{"source":"gmail","emailAddress":"user@example.com","historyId":"123456","eventTime":"2025-08-26T10:11:12Z","projectId":"dev-project"}`)
	got, err := Parse(data, map[string]string{"version": "2"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := &Envelope{
		EmailAddress: "user@example.com",
		HistoryID:    123456,
		EventTime:    time.Date(2025, 8, 26, 10, 11, 12, 0, time.UTC),
		ProjectID:    "dev-project",
		Version:      2,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

// Gmail watch notifications carry historyId as a bare JSON number;
// other producers stringify it.  Both encodings must parse.
func TestParseHistoryIDEncodings(t *testing.T) {
	cases := []struct {
		name string
		data string
		want uint64
	}{
		{"string", `{"source":"gmail","emailAddress":"user@example.com","historyId":"123456"}`, 123456},
		{"number", `{"source":"gmail","emailAddress":"user@example.com","historyId":123456}`, 123456},
	}
	for _, tc := range cases {
		got, err := Parse([]byte(tc.data), nil)
		if err != nil {
			t.Fatalf("%s: Parse() error = %v", tc.name, err)
		}
		if got.HistoryID != tc.want {
			t.Errorf("%s: HistoryID = %d, want %d", tc.name, got.HistoryID, tc.want)
		}
	}
}

func TestParseDiscards(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"wrong source", `{"source":"drive","emailAddress":"a@b.c","historyId":"1"}`},
		{"missing source", `{"emailAddress":"a@b.c","historyId":"1"}`},
		{"missing address", `{"source":"gmail","historyId":"1"}`},
		{"missing history id", `{"source":"gmail","emailAddress":"a@b.c"}`},
		{"empty history id", `{"source":"gmail","emailAddress":"a@b.c","historyId":""}`},
		{"null history id", `{"source":"gmail","emailAddress":"a@b.c","historyId":null}`},
		{"non numeric history id", `{"source":"gmail","emailAddress":"a@b.c","historyId":"abc"}`},
		{"fractional history id", `{"source":"gmail","emailAddress":"a@b.c","historyId":1.5}`},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.data), nil)
		if errors.Cause(err) != ErrDiscard {
			t.Errorf("%s: Parse() error = %v, want cause ErrDiscard", tc.name, err)
		}
	}
}

func TestVersionDefaults(t *testing.T) {
	data := []byte(`{"source":"gmail","emailAddress":"a@b.c","historyId":"7"}`)
	cases := []struct {
		name  string
		attrs map[string]string
		want  int
	}{
		{"no attributes", nil, 1},
		{"absent version", map[string]string{}, 1},
		{"unparsable version", map[string]string{"version": "two"}, 1},
		{"explicit version", map[string]string{"version": "3"}, 3},
	}
	for _, tc := range cases {
		got, err := Parse(data, tc.attrs)
		if err != nil {
			t.Fatalf("%s: Parse() error = %v", tc.name, err)
		}
		if got.Version != tc.want {
			t.Errorf("%s: Version = %d, want %d", tc.name, got.Version, tc.want)
		}
	}
}
