// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package envelope validates and normalizes inbound mailbox-change
// notifications.
package envelope

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Source is the only notification source this program processes.
const Source = "gmail"

// ErrDiscard marks a notification that must be dropped without side
// effects: wrong source, unparsable payload, or missing required
// fields.  Callers ack discarded notifications; they are not
// redelivery candidates.
var ErrDiscard = errors.New("notification discarded")

// Envelope is a validated mailbox-change notification.
type Envelope struct {
	// EmailAddress is the mailbox the change happened in.
	EmailAddress string

	// HistoryID is the cursor value carried by the notification.
	// A stored cursor, when present, takes precedence over it.
	HistoryID uint64

	// EventTime is when the change happened, zero when the
	// notification did not carry a parsable timestamp.
	EventTime time.Time

	// ProjectID is the cloud project the notification originated
	// from, informational only.
	ProjectID string

	// Version is the payload schema version from the delivery
	// attributes, defaulting to 1.
	Version int
}

type payload struct {
	Source       string `json:"source"`
	EmailAddress string `json:"emailAddress"`
	// Gmail encodes historyId as a JSON number; other producers
	// stringify it.  Keep the raw bytes and normalize after.
	HistoryID json.RawMessage `json:"historyId"`
	EventTime string          `json:"eventTime"`
	ProjectID string          `json:"projectId"`
}

// historyID normalizes the two wire encodings of historyId, a bare
// number and a quoted decimal string, into its integer value.
func historyID(raw json.RawMessage) (uint64, error) {
	s := string(bytes.Trim(raw, `"`))
	if s == "" || s == "null" {
		return 0, errors.Wrap(ErrDiscard, "missing historyId")
	}
	hid, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrDiscard, "historyId %s is not an integer", raw)
	}
	return hid, nil
}

// Parse decodes a notification's payload bytes and delivery
// attributes.  Invalid notifications return an error whose cause is
// ErrDiscard.
func Parse(data []byte, attrs map[string]string) (*Envelope, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(ErrDiscard, "unparsable payload: %v", err)
	}
	if p.Source != Source {
		return nil, errors.Wrapf(ErrDiscard, "source %q is not %q", p.Source, Source)
	}
	if p.EmailAddress == "" {
		return nil, errors.Wrap(ErrDiscard, "missing emailAddress")
	}
	hid, err := historyID(p.HistoryID)
	if err != nil {
		return nil, err
	}

	e := &Envelope{
		EmailAddress: p.EmailAddress,
		HistoryID:    hid,
		ProjectID:    p.ProjectID,
		Version:      version(attrs),
	}
	if p.EventTime != "" {
		if t, err := time.Parse(time.RFC3339, p.EventTime); err == nil {
			e.EventTime = t
		}
	}
	return e, nil
}

// version reads the schema version attribute.  Absent or unparsable
// values select version 1.
func version(attrs map[string]string) int {
	v, ok := attrs["version"]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 1
	}
	return n
}
