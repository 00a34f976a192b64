package gmail

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	gmail_api "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

func TestHeaderValue(t *testing.T) {
	msg := &gmail_api.Message{
		Payload: &gmail_api.MessagePart{
			Headers: []*gmail_api.MessagePartHeader{
				{Name: "Subject", Value: "Training Exercise"},
				{Name: "Message-ID", Value: "<mid-1>"},
			},
		},
	}
	if got := headerValue(msg, "Subject"); got != "Training Exercise" {
		t.Errorf("headerValue(Subject) = %q", got)
	}
	// Header names compare case-insensitively; senders vary
	// between Message-Id and Message-ID.
	if got := headerValue(msg, "Message-Id"); got != "<mid-1>" {
		t.Errorf("headerValue(Message-Id) = %q", got)
	}
	if got := headerValue(msg, "From"); got != "" {
		t.Errorf("headerValue(From) = %q, want empty", got)
	}
	if got := headerValue(&gmail_api.Message{}, "Subject"); got != "" {
		t.Errorf("headerValue on payload-less message = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"404", &googleapi.Error{Code: http.StatusNotFound}, true},
		{"wrapped 404", errors.Wrap(&googleapi.Error{Code: 404}, "getting message"), true},
		{"500", &googleapi.Error{Code: http.StatusInternalServerError}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := notFound(tc.err); got != tc.want {
			t.Errorf("%s: notFound() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
