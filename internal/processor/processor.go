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

// Package processor implements the history-sync and fan-out
// pipeline: resolve which messages are new since the stored cursor,
// filter them by subject, deliver each one exactly once per teammate
// mailbox, and tag every copy with the shared label.
package processor

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/mstrand/gmailfan/internal/envelope"
	"github.com/mstrand/gmailfan/internal/kv"
	"github.com/mstrand/gmailfan/internal/message"
	"github.com/mstrand/gmailfan/internal/rules"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine orchestrates one notification cycle at a time.  It is safe
// for concurrent use; the label cache is shared across cycles and
// populated by whichever cycle misses first.
type Engine struct {
	opener    Opener
	store     kv.Store
	rule      rules.SubjectRule
	team      []string
	labelName string
	log       *zap.SugaredLogger

	// labelMu serializes label resolution so concurrent misses on
	// the same mailbox collapse into one remote ensure.
	labelMu sync.Mutex
	labels  map[string]string
}

// New returns an engine fanning out to team, labeling every copy
// with labelName.
func New(opener Opener, store kv.Store, rule rules.SubjectRule, team []string, labelName string, log *zap.SugaredLogger) *Engine {
	return &Engine{
		opener:    opener,
		store:     store,
		rule:      rule,
		team:      team,
		labelName: labelName,
		log:       log.Named("processor"),
		labels:    make(map[string]string),
	}
}

// ProcessNotification is the delivery mechanism's entry point.  A
// nil return means the notification may be acked; any error asks the
// caller to nack and let the notification be redelivered.  Discarded
// notifications (wrong source, unparsable) return nil: redelivering
// them cannot help.
func (e *Engine) ProcessNotification(ctx context.Context, data []byte, attrs map[string]string) error {
	env, err := envelope.Parse(data, attrs)
	if err != nil {
		if errors.Cause(err) == envelope.ErrDiscard {
			e.log.Warnw("discarding notification", "reason", err)
			return nil
		}
		return err
	}
	return e.Process(ctx, env)
}

// Process runs one full cycle for a validated notification: cursor
// lookup, history resolution (or resync fallback), fan-out, and a
// single cursor write at the end.
func (e *Engine) Process(ctx context.Context, env *envelope.Envelope) error {
	source := env.EmailAddress
	src, err := e.opener.Open(ctx, source)
	if err != nil {
		return errors.Wrapf(err, "opening source mailbox %v", source)
	}

	// The stored cursor, when present, takes precedence over the
	// one carried by the notification: it may be fresher.
	start := env.HistoryID
	stored, err := e.storedCursor(ctx, source)
	if err != nil {
		return err
	}
	if stored > 0 {
		start = stored
	}

	ids, maxSeen, err := e.resolve(ctx, src, start)
	if err != nil {
		return errors.Wrapf(err, "resolving history for %v", source)
	}
	e.log.Infow("cycle start", "mailbox", source, "cursor", start,
		"candidates", len(ids), "max_seen", maxSeen)

	// Per-message and per-target failures are contained inside
	// processMessage; only whole-cycle-fatal errors (authorization,
	// store writes) come back here.
	for _, id := range ids {
		if err := e.processMessage(ctx, source, src, id); err != nil {
			return err
		}
	}

	// Advance the cursor only after every candidate has been
	// attempted, and never backwards.
	if maxSeen > stored {
		if err := e.store.Set(ctx, kv.CursorKey(source), strconv.FormatUint(maxSeen, 10)); err != nil {
			return errors.Wrapf(err, "persisting cursor for %v", source)
		}
	}
	return nil
}

func (e *Engine) storedCursor(ctx context.Context, mailbox string) (uint64, error) {
	v, ok, err := e.store.Get(ctx, kv.CursorKey(mailbox))
	if err != nil {
		return 0, errors.Wrapf(err, "reading cursor for %v", mailbox)
	}
	if !ok {
		return 0, nil
	}
	cur, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		// A corrupt cursor is treated like an expired one: the
		// resolver falls back to a full resync.
		e.log.Warnw("ignoring unparsable stored cursor", "mailbox", mailbox, "value", v)
		return 0, nil
	}
	return cur, nil
}

// resolve returns the ids of newly added messages and the highest
// history position observed.  Any failure of the history listing,
// including an expired cursor, falls back to a full resync: find
// every message matching the subject rule regardless of cursor, and
// reseed the cursor from the newest message's history position.
// Re-finding already-processed messages is safe because delivery
// dedups on the message's own identifier, never on cursor position.
func (e *Engine) resolve(ctx context.Context, src Mailbox, start uint64) ([]string, uint64, error) {
	page, err := src.ListHistory(ctx, start)
	if err == nil {
		return page.AddedIDs, page.MaxHistoryID, nil
	}
	e.log.Warnw("history listing failed, running full resync", "cursor", start, "err", err)

	ids, err := src.ListByQuery(ctx, e.rule.Query())
	if err != nil {
		return nil, 0, errors.Wrap(err, "resync query failed")
	}
	latest, err := src.LatestHistoryID(ctx)
	if err != nil {
		// Best effort: better to leave the cursor alone than to
		// guess.  The next cycle resyncs again.
		e.log.Warnw("could not reseed cursor after resync", "err", err)
		latest = 0
	}
	return ids, latest, nil
}

// processMessage runs the dedup and fan-out steps for one candidate.
// The returned error is non-nil only for whole-cycle-fatal failures
// (mailbox authorization, durable store writes); everything else is
// logged and contained.
func (e *Engine) processMessage(ctx context.Context, source string, src Mailbox, id string) error {
	hdr, err := src.GetMetadata(ctx, id)
	if err != nil {
		e.log.Warnw("skipping message, metadata fetch failed", "id", id, "err", err)
		return nil
	}
	if !e.rule.Matches(hdr.Subject) {
		return nil
	}
	if hdr.RFC822ID == "" {
		// Without a stable identifier the message cannot be
		// deduplicated, so it is dropped rather than risking
		// unbounded duplication on redelivery.
		e.log.Warnw("skipping message without Message-Id header", "id", id)
		return nil
	}

	body, err := src.GetRaw(ctx, id)
	if err != nil {
		e.log.Warnw("skipping message, raw fetch failed", "id", id, "err", err)
		return nil
	}

	inserts := make(map[string]*message.InsertResult)
	for _, target := range e.team {
		if strings.EqualFold(target, source) {
			continue
		}
		res, err := e.deliver(ctx, target, hdr.RFC822ID, body.Raw)
		if err != nil {
			return err
		}
		if res != nil {
			inserts[target] = res
		}
	}

	e.labelPass(ctx, hdr.RFC822ID, inserts)
	return nil
}

// deliver performs idempotent delivery of one message to one target:
// processed marker, then remote existence, then insert.  The marker
// is only written after a successful check or insert, so a failed
// target is retried on the next cycle.  Returns the insert result
// when an insertion happened this cycle.
func (e *Engine) deliver(ctx context.Context, target, rfc822ID string, raw []byte) (*message.InsertResult, error) {
	key := kv.ProcessedKey(target, rfc822ID)
	_, done, err := e.store.Get(ctx, key)
	if err != nil {
		// Without the marker the delivery cannot be made safe;
		// skip this target rather than risk a duplicate.
		e.log.Errorw("skipping target, marker read failed", "target", target, "err", err)
		return nil, nil
	}
	if done {
		return nil, nil
	}

	tgt, err := e.opener.Open(ctx, target)
	if err != nil {
		return nil, errors.Wrapf(err, "opening target mailbox %v", target)
	}

	exists, err := tgt.SearchByMessageID(ctx, rfc822ID)
	if err != nil {
		e.log.Warnw("skipping target, existence check failed", "target", target, "err", err)
		return nil, nil
	}
	if exists {
		// Delivered by an earlier cycle or always present;
		// record that so the check is not repeated.
		if err := e.store.Set(ctx, key, "1"); err != nil {
			return nil, errors.Wrapf(err, "marking %v processed for %v", rfc822ID, target)
		}
		return nil, nil
	}

	res, err := tgt.InsertRaw(ctx, raw)
	if err != nil {
		e.log.Warnw("insert failed, will retry next cycle", "target", target, "err", err)
		return nil, nil
	}
	if err := e.store.Set(ctx, key, "1"); err != nil {
		return nil, errors.Wrapf(err, "marking %v processed for %v", rfc822ID, target)
	}
	return res, nil
}

// labelPass applies the shared label at every roster mailbox,
// including ones that were already up to date this cycle, so label
// state self-heals even when delivery happened earlier.  Targets are
// labeled concurrently; a failure at one mailbox never fails the
// cycle or the other mailboxes.
func (e *Engine) labelPass(ctx context.Context, rfc822ID string, inserts map[string]*message.InsertResult) {
	grp, ctx := errgroup.WithContext(ctx)
	for _, target := range e.team {
		target := target
		res := inserts[target]
		grp.Go(func() error {
			if err := e.labelTarget(ctx, target, rfc822ID, res); err != nil {
				e.log.Warnw("labeling failed", "target", target, "err", err)
			}
			return nil
		})
	}
	grp.Wait()
}

// labelTarget resolves which object receives the label: the thread
// created by this cycle's insertion, else the inserted message, else
// whatever object the dedup identifier locates.
func (e *Engine) labelTarget(ctx context.Context, target, rfc822ID string, res *message.InsertResult) error {
	tgt, err := e.opener.Open(ctx, target)
	if err != nil {
		return err
	}
	labelID, err := e.labelFor(ctx, tgt, target)
	if err != nil {
		return err
	}

	if res != nil && res.ThreadID != "" {
		return tgt.LabelThread(ctx, res.ThreadID, labelID)
	}
	if res != nil && res.PermID != "" {
		return tgt.LabelMessage(ctx, res.PermID, labelID)
	}

	found, ok, err := tgt.FindByMessageID(ctx, rfc822ID)
	if err != nil {
		return err
	}
	if !ok {
		e.log.Infow("nothing to label", "target", target, "rfc822id", rfc822ID)
		return nil
	}
	if found.ThreadID != "" {
		return tgt.LabelThread(ctx, found.ThreadID, labelID)
	}
	return tgt.LabelMessage(ctx, found.PermID, labelID)
}

// labelFor returns the mailbox-local id of the shared label, cached
// for the engine's lifetime.  The cache is never invalidated; a
// label deleted out-of-band stays stale until the process restarts.
func (e *Engine) labelFor(ctx context.Context, tgt Labeler, mailbox string) (string, error) {
	e.labelMu.Lock()
	defer e.labelMu.Unlock()
	if id, ok := e.labels[mailbox]; ok {
		return id, nil
	}
	id, err := tgt.EnsureLabel(ctx, e.labelName)
	if err != nil {
		return "", err
	}
	e.labels[mailbox] = id
	return id, nil
}
