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

// Package tracehttp dumps mail service traffic for debugging.
package tracehttp

import (
	"net/http"
	"net/http/httputil"
	"regexp"

	"go.uber.org/zap"
)

// Every request here carries a live bearer token for a team mailbox;
// strip it from dumps before it reaches a log sink.
var authLine = regexp.MustCompile(`(?mi)^Authorization:.*$`)

func redact(dump []byte) []byte {
	return authLine.ReplaceAll(dump, []byte("Authorization: REDACTED"))
}

// traceTransport is an http.RoundTripper that logs each request and
// response while delegating the real work to another
// http.RoundTripper.
type traceTransport struct {
	delegate http.RoundTripper
	log      *zap.SugaredLogger
}

func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if dump, err := httputil.DumpRequestOut(req, true); err == nil {
		t.log.Debugf("request:\n%s", redact(dump))
	}
	resp, err := t.delegate.RoundTrip(req)
	if err == nil {
		if dump, dumpErr := httputil.DumpResponse(resp, true); dumpErr == nil {
			t.log.Debugf("response:\n%s", dump)
		}
	}
	return resp, err
}

// Wrap returns a RoundTripper that logs traffic through log before
// delegating to d.
func Wrap(d http.RoundTripper, log *zap.SugaredLogger) http.RoundTripper {
	if d == nil {
		d = http.DefaultTransport
	}
	return &traceTransport{delegate: d, log: log.Named("http")}
}

// WrapDefaultTransport injects a tracing transport into
// http.DefaultTransport, covering every client the program builds.
func WrapDefaultTransport(log *zap.SugaredLogger) {
	http.DefaultTransport = Wrap(http.DefaultTransport, log)
}
