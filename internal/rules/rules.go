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

// Package rules decides which messages qualify for team fan-out.
package rules

import "strings"

// DefaultPhrase is the subject phrase the team coordinates on.
const DefaultPhrase = "Training Exercise"

// SubjectRule matches subjects that carry a fixed phrase.  A subject
// qualifies when, after trimming surrounding whitespace, it equals
// the phrase or ends with it.  This accepts reply prefixes such as
// "Re: Training Exercise" while rejecting subjects that merely
// mention the phrase somewhere in the middle.
type SubjectRule struct {
	phrase string
}

// NewSubjectRule returns a rule over the given phrase.  An empty
// phrase falls back to DefaultPhrase.
func NewSubjectRule(phrase string) SubjectRule {
	if phrase == "" {
		phrase = DefaultPhrase
	}
	return SubjectRule{phrase: phrase}
}

// Phrase returns the phrase this rule matches on.
func (r SubjectRule) Phrase() string {
	return r.phrase
}

// Matches reports whether subject qualifies.  An empty subject never
// qualifies.
func (r SubjectRule) Matches(subject string) bool {
	s := strings.TrimSpace(subject)
	if s == "" {
		return false
	}
	return s == r.phrase || strings.HasSuffix(s, r.phrase)
}

// Query returns the mailbox search expression that finds candidate
// messages independent of any history cursor.  Used by the full
// resync fallback.
func (r SubjectRule) Query() string {
	return `subject:"` + r.phrase + `"`
}
