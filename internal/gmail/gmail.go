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

// Package gmail provides the idempotent, retryable operation surface
// over one GMail mailbox.  The program holds one Gateway per team
// mailbox.
package gmail

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/mstrand/gmailfan/internal/message"
	"github.com/mstrand/gmailfan/internal/retry"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	gmail_api "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Scopes are the OAuth scopes every delegated client needs: read
// the source mailbox, insert into target mailboxes, modify labels.
var Scopes = []string{
	gmail_api.GmailReadonlyScope,
	gmail_api.GmailInsertScope,
	gmail_api.GmailModifyScope,
}

const (
	// See https://developers.google.com/gmail/api/v1/reference/quota
	quotaUnitsMessagesGet     = 5
	quotaUnitsPerMessagesList = 5
	quotaUnitsPerHistoryList  = 2
	quotaUnitsPerInsert       = 25
	quotaUnitsPerLabelsList   = 1
	quotaUnitsPerLabelsCreate = 5
	quotaUnitsPerModify       = 5
	quotaUnitsPerThreadModify = 10
	quotaUnitsPerWatch        = 100
	quotaUnitsPerStop         = 50

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond
)

// metadataHeaders are the only headers requested on metadata gets.
// Subject drives the qualification rule; Message-Id is the
// cross-mailbox dedup key; the rest give log lines enough context.
var metadataHeaders = []string{
	"Subject",
	"Message-Id",
	"References",
	"In-Reply-To",
	"From",
	"To",
	"Cc",
}

var (
	// ErrMessageNotFound reports a mailbox-local id the service no
	// longer resolves.
	ErrMessageNotFound = errors.New("gmail message not found")

	// ErrCursorInvalid reports a start cursor outside the
	// service's retained history window.  The caller decides the
	// resync policy.
	ErrCursorInvalid = errors.New("gmail history cursor no longer valid")
)

// Gateway provides access to messages stored in one mailbox of
// Google's GMail system.  Every remote call runs under the gateway's
// rate limiter and backoff schedule.
type Gateway struct {
	mailbox string
	service *gmail_api.Service
	limiter *rate.Limiter
	backoff retry.Backoff
	log     *zap.SugaredLogger
}

// New returns a Gateway for mailbox using an HTTP client already
// authorized to act as that mailbox.
func New(ctx context.Context, client *http.Client, mailbox string, log *zap.SugaredLogger) (*Gateway, error) {
	s, err := gmail_api.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, errors.Wrapf(err, "gmail service for %v", mailbox)
	}
	l := rate.NewLimiter(rateLimitPerSecond, rateLimitBurst)
	return &Gateway{
		mailbox: mailbox,
		service: s,
		limiter: l,
		backoff: retry.Default(),
		log:     log.Named("gmail").With("mailbox", mailbox),
	}, nil
}

// Mailbox returns the address this gateway acts as.
func (g *Gateway) Mailbox() string {
	return g.mailbox
}

func headerValue(msg *gmail_api.Message, name string) string {
	if msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func notFound(err error) bool {
	cause, ok := errors.Cause(err).(*googleapi.Error)
	return ok && cause.Code == http.StatusNotFound
}

// GetMetadata returns the header-only representation of a message.
// Never mutates remote state.
func (g *Gateway) GetMetadata(ctx context.Context, id string) (*message.Header, error) {
	if err := g.limiter.WaitN(ctx, quotaUnitsMessagesGet); err != nil {
		return nil, err
	}
	var msg *gmail_api.Message
	err := g.backoff.Do(ctx, func() (err error) {
		msg, err = gmail_api.NewUsersMessagesService(g.service).Get("me", id).
			Context(ctx).Format("metadata").MetadataHeaders(metadataHeaders...).Do()
		return
	}, retry.Transient)
	if notFound(err) {
		return nil, errors.Wrapf(ErrMessageNotFound, "message %v", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting message %v from gmail", id)
	}
	return &message.Header{
		ID:        message.ID{PermID: msg.Id, ThreadID: msg.ThreadId},
		RFC822ID:  headerValue(msg, "Message-Id"),
		Subject:   headerValue(msg, "Subject"),
		HistoryID: msg.HistoryId,
	}, nil
}

// GetRaw returns the full message bytes, decoded from the service's
// transport encoding.
func (g *Gateway) GetRaw(ctx context.Context, id string) (*message.Body, error) {
	if err := g.limiter.WaitN(ctx, quotaUnitsMessagesGet); err != nil {
		return nil, err
	}
	var msg *gmail_api.Message
	err := g.backoff.Do(ctx, func() (err error) {
		msg, err = gmail_api.NewUsersMessagesService(g.service).Get("me", id).
			Context(ctx).Format("raw").Do()
		return
	}, retry.Transient)
	if notFound(err) {
		return nil, errors.Wrapf(ErrMessageNotFound, "message %v", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting message %v from gmail", id)
	}
	raw, err := base64.URLEncoding.DecodeString(msg.Raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding message %v from gmail", id)
	}
	return &message.Body{
		Header: message.Header{
			ID:        message.ID{PermID: msg.Id, ThreadID: msg.ThreadId},
			HistoryID: msg.HistoryId,
		},
		Raw: raw,
	}, nil
}

func (g *Gateway) listByRFC822ID(ctx context.Context, rfc822ID string) (*gmail_api.ListMessagesResponse, error) {
	if err := g.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
		return nil, err
	}
	q := "rfc822msgid:" + rfc822ID
	var res *gmail_api.ListMessagesResponse
	err := g.backoff.Do(ctx, func() (err error) {
		res, err = gmail_api.NewUsersMessagesService(g.service).List("me").
			Context(ctx).Q(q).MaxResults(1).Do()
		return
	}, retry.Transient)
	if err != nil {
		return nil, errors.Wrapf(err, "searching %v for %v", g.mailbox, rfc822ID)
	}
	return res, nil
}

// SearchByMessageID reports whether the mailbox already holds a
// message with the given RFC 2822 Message-ID.
func (g *Gateway) SearchByMessageID(ctx context.Context, rfc822ID string) (bool, error) {
	res, err := g.listByRFC822ID(ctx, rfc822ID)
	if err != nil {
		return false, err
	}
	return res.ResultSizeEstimate > 0, nil
}

// FindByMessageID returns the mailbox-local ids of the message with
// the given RFC 2822 Message-ID, when present.
func (g *Gateway) FindByMessageID(ctx context.Context, rfc822ID string) (message.ID, bool, error) {
	res, err := g.listByRFC822ID(ctx, rfc822ID)
	if err != nil {
		return message.ID{}, false, err
	}
	if len(res.Messages) == 0 {
		return message.ID{}, false, nil
	}
	m := res.Messages[0]
	return message.ID{PermID: m.Id, ThreadID: m.ThreadId}, true, nil
}

// InsertRaw places raw message bytes into the mailbox.  The remote
// call itself is not idempotent; callers must check existence first.
func (g *Gateway) InsertRaw(ctx context.Context, raw []byte) (*message.InsertResult, error) {
	if err := g.limiter.WaitN(ctx, quotaUnitsPerInsert); err != nil {
		return nil, err
	}
	body := &gmail_api.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	var msg *gmail_api.Message
	err := g.backoff.Do(ctx, func() (err error) {
		msg, err = gmail_api.NewUsersMessagesService(g.service).Insert("me", body).
			Context(ctx).InternalDateSource("dateHeader").Do()
		return
	}, retry.Transient)
	if err != nil {
		return nil, errors.Wrapf(err, "inserting message into %v", g.mailbox)
	}
	g.log.Infow("inserted message", "id", msg.Id, "thread", msg.ThreadId)
	return &message.InsertResult{PermID: msg.Id, ThreadID: msg.ThreadId}, nil
}

// EnsureLabel returns the mailbox-local id of the label with the
// given display name, creating it when absent.  A create racing
// another creator may fail; the next cycle's re-list finds the
// winner.
func (g *Gateway) EnsureLabel(ctx context.Context, name string) (string, error) {
	if err := g.limiter.WaitN(ctx, quotaUnitsPerLabelsList); err != nil {
		return "", err
	}
	var list *gmail_api.ListLabelsResponse
	err := g.backoff.Do(ctx, func() (err error) {
		list, err = gmail_api.NewUsersLabelsService(g.service).List("me").Context(ctx).Do()
		return
	}, retry.Transient)
	if err != nil {
		return "", errors.Wrapf(err, "listing labels in %v", g.mailbox)
	}
	for _, lb := range list.Labels {
		if lb.Name == name {
			return lb.Id, nil
		}
	}

	if err := g.limiter.WaitN(ctx, quotaUnitsPerLabelsCreate); err != nil {
		return "", err
	}
	body := &gmail_api.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}
	var created *gmail_api.Label
	err = g.backoff.Do(ctx, func() (err error) {
		created, err = gmail_api.NewUsersLabelsService(g.service).Create("me", body).Context(ctx).Do()
		return
	}, retry.Transient)
	if err != nil {
		return "", errors.Wrapf(err, "creating label %q in %v", name, g.mailbox)
	}
	g.log.Infow("created label", "name", name, "id", created.Id)
	return created.Id, nil
}

// LabelThread adds labelID to a thread.  Adding a label a thread
// already has is a server-side no-op.
func (g *Gateway) LabelThread(ctx context.Context, threadID, labelID string) error {
	if err := g.limiter.WaitN(ctx, quotaUnitsPerThreadModify); err != nil {
		return err
	}
	body := &gmail_api.ModifyThreadRequest{AddLabelIds: []string{labelID}}
	err := g.backoff.Do(ctx, func() error {
		_, err := gmail_api.NewUsersThreadsService(g.service).Modify("me", threadID, body).
			Context(ctx).Do()
		return err
	}, retry.Transient)
	return errors.Wrapf(err, "labeling thread %v in %v", threadID, g.mailbox)
}

// LabelMessage adds labelID to a single message.
func (g *Gateway) LabelMessage(ctx context.Context, id, labelID string) error {
	if err := g.limiter.WaitN(ctx, quotaUnitsPerModify); err != nil {
		return err
	}
	body := &gmail_api.ModifyMessageRequest{AddLabelIds: []string{labelID}}
	err := g.backoff.Do(ctx, func() error {
		_, err := gmail_api.NewUsersMessagesService(g.service).Modify("me", id, body).
			Context(ctx).Do()
		return err
	}, retry.Transient)
	return errors.Wrapf(err, "labeling message %v in %v", id, g.mailbox)
}

// ListHistory walks the mailbox's change history from startHistoryID,
// accumulating the id of every message seen under a messagesAdded
// record and the maximum history record id across all pages.  A
// start cursor outside the retained window returns ErrCursorInvalid;
// the caller decides the resync policy.
func (g *Gateway) ListHistory(ctx context.Context, startHistoryID uint64) (*message.HistoryPage, error) {
	wait := func() error {
		return g.limiter.WaitN(ctx, quotaUnitsPerHistoryList)
	}
	if err := wait(); err != nil {
		return nil, err
	}

	page := &message.HistoryPage{}
	err := g.backoff.Do(ctx, func() error {
		page.AddedIDs = page.AddedIDs[:0]
		page.MaxHistoryID = 0
		req := gmail_api.NewUsersHistoryService(g.service).List("me").
			Context(ctx).HistoryTypes("messageAdded").StartHistoryId(startHistoryID)
		return req.Pages(ctx, func(res *gmail_api.ListHistoryResponse) (err error) {
			for _, h := range res.History {
				if h.Id > page.MaxHistoryID {
					page.MaxHistoryID = h.Id
				}
				for _, added := range h.MessagesAdded {
					if added.Message != nil && added.Message.Id != "" {
						page.AddedIDs = append(page.AddedIDs, added.Message.Id)
					}
				}
			}
			if res.NextPageToken != "" {
				err = wait()
			}
			return
		})
	}, retry.Transient)
	if notFound(err) {
		return nil, errors.Wrapf(ErrCursorInvalid, "history from %v in %v", startHistoryID, g.mailbox)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "listing history from %v in %v", startHistoryID, g.mailbox)
	}
	g.log.Debugw("listed history", "from", startHistoryID,
		"added", len(page.AddedIDs), "max", page.MaxHistoryID)
	return page, nil
}

// ListByQuery returns the mailbox-local ids of every message the
// given search expression matches, across all result pages.
func (g *Gateway) ListByQuery(ctx context.Context, query string) ([]string, error) {
	wait := func() error {
		return g.limiter.WaitN(ctx, quotaUnitsPerMessagesList)
	}
	if err := wait(); err != nil {
		return nil, err
	}

	var ids []string
	err := g.backoff.Do(ctx, func() error {
		ids = ids[:0]
		req := gmail_api.NewUsersMessagesService(g.service).List("me").
			Context(ctx).Q(query).MaxResults(100)
		return req.Pages(ctx, func(res *gmail_api.ListMessagesResponse) (err error) {
			for _, m := range res.Messages {
				if m.Id != "" {
					ids = append(ids, m.Id)
				}
			}
			if res.NextPageToken != "" {
				err = wait()
			}
			return
		})
	}, retry.Transient)
	if err != nil {
		return nil, errors.Wrapf(err, "searching %v for %q", g.mailbox, query)
	}
	return ids, nil
}

// LatestHistoryID returns the history position of the most recently
// received message, best effort.  An empty mailbox returns zero with
// no error.
func (g *Gateway) LatestHistoryID(ctx context.Context) (uint64, error) {
	if err := g.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
		return 0, err
	}
	var res *gmail_api.ListMessagesResponse
	err := g.backoff.Do(ctx, func() (err error) {
		res, err = gmail_api.NewUsersMessagesService(g.service).List("me").
			Context(ctx).MaxResults(1).Do()
		return
	}, retry.Transient)
	if err != nil {
		return 0, errors.Wrapf(err, "listing newest message in %v", g.mailbox)
	}
	if len(res.Messages) == 0 || res.Messages[0].Id == "" {
		return 0, nil
	}
	hdr, err := g.GetMetadata(ctx, res.Messages[0].Id)
	if err != nil {
		return 0, err
	}
	return hdr.HistoryID, nil
}

// WatchResult reports the state of a newly registered push
// notification channel.
type WatchResult struct {
	HistoryID  uint64
	Expiration int64
}

// Watch registers push notifications for the mailbox on the given
// Pub/Sub topic.  Used by the registration utility, not the
// per-event pipeline.
func (g *Gateway) Watch(ctx context.Context, topic string, labelIDs []string) (*WatchResult, error) {
	if err := g.limiter.WaitN(ctx, quotaUnitsPerWatch); err != nil {
		return nil, err
	}
	body := &gmail_api.WatchRequest{TopicName: topic, LabelIds: labelIDs}
	var res *gmail_api.WatchResponse
	err := g.backoff.Do(ctx, func() (err error) {
		res, err = gmail_api.NewUsersService(g.service).Watch("me", body).Context(ctx).Do()
		return
	}, retry.Transient)
	if err != nil {
		return nil, errors.Wrapf(err, "registering watch for %v", g.mailbox)
	}
	return &WatchResult{HistoryID: res.HistoryId, Expiration: res.Expiration}, nil
}

// Stop cancels push notifications for the mailbox.
func (g *Gateway) Stop(ctx context.Context) error {
	if err := g.limiter.WaitN(ctx, quotaUnitsPerStop); err != nil {
		return err
	}
	err := g.backoff.Do(ctx, func() error {
		return gmail_api.NewUsersService(g.service).Stop("me").Context(ctx).Do()
	}, retry.Transient)
	return errors.Wrapf(err, "stopping watch for %v", g.mailbox)
}
