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

// Package kv defines the durable key/value contract the pipeline
// depends on, and its backends.  The pipeline stores two kinds of
// keys: per-mailbox history cursors and per-(target, message)
// processed markers.
package kv

import "context"

// Store is the durable state contract.  Implementations must provide
// read-your-writes consistency within a single invocation.  No
// transactions or TTLs are required.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
}

// CursorKey is the key holding mailbox's history cursor.
func CursorKey(mailbox string) string {
	return "history_cursor:" + mailbox
}

// ProcessedKey is the key marking that the message identified by
// globalID has been handled for target.  Once set it is never
// cleared by this program.
func ProcessedKey(target, globalID string) string {
	return "processed:" + target + ":" + globalID
}
