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

package processor

// This file declares the mailbox operations the engine consumes.

import (
	"context"

	"github.com/mstrand/gmailfan/internal/message"
)

// MessageReader reads messages and their metadata from a mailbox.
type MessageReader interface {
	GetMetadata(ctx context.Context, id string) (*message.Header, error)
	GetRaw(ctx context.Context, id string) (*message.Body, error)
}

// MessageFinder locates messages in a mailbox by their RFC 2822
// Message-ID, the cross-mailbox dedup key.
type MessageFinder interface {
	SearchByMessageID(ctx context.Context, rfc822ID string) (bool, error)
	FindByMessageID(ctx context.Context, rfc822ID string) (message.ID, bool, error)
}

// MessageWriter places new messages into a mailbox.
type MessageWriter interface {
	InsertRaw(ctx context.Context, raw []byte) (*message.InsertResult, error)
}

// Labeler manages and applies a mailbox's labels.
type Labeler interface {
	EnsureLabel(ctx context.Context, name string) (string, error)
	LabelThread(ctx context.Context, threadID, labelID string) error
	LabelMessage(ctx context.Context, id, labelID string) error
}

// HistoryLister resolves what changed in a mailbox since a cursor,
// and supports the cursor-independent fallbacks.
type HistoryLister interface {
	ListHistory(ctx context.Context, startHistoryID uint64) (*message.HistoryPage, error)
	ListByQuery(ctx context.Context, query string) ([]string, error)
	LatestHistoryID(ctx context.Context) (uint64, error)
}

// Mailbox provides all remote operations the engine performs against
// one mailbox.
type Mailbox interface {
	MessageReader
	MessageFinder
	MessageWriter
	Labeler
	HistoryLister
}

// Opener authorizes access to one mailbox.  Authorization failures
// are configuration errors and abort the cycle.
type Opener interface {
	Open(ctx context.Context, mailbox string) (Mailbox, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, mailbox string) (Mailbox, error)

func (f OpenerFunc) Open(ctx context.Context, mailbox string) (Mailbox, error) {
	return f(ctx, mailbox)
}
