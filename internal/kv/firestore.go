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

package kv

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore is a Store backed by a Firestore collection.  Each key
// becomes a document holding a single "value" field.
type Firestore struct {
	client     *firestore.Client
	collection string
}

// OpenFirestore connects to the project's Firestore database.  The
// collection name is derived from prefix the same way across every
// deployment, so workers sharing a project share state.
func OpenFirestore(ctx context.Context, projectID, prefix string) (*Firestore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, errors.Wrapf(err, "firestore client for project %q", projectID)
	}
	return &Firestore{client: client, collection: prefix + "_kv"}, nil
}

func (s *Firestore) Close() error {
	return s.client.Close()
}

func (s *Firestore) Get(ctx context.Context, key string) (string, bool, error) {
	doc, err := s.client.Collection(s.collection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "kv get %q failed", key)
	}
	v, err := doc.DataAt("value")
	if err != nil {
		return "", false, nil
	}
	value, ok := v.(string)
	if !ok {
		return "", false, errors.Errorf("kv get %q: value is not a string", key)
	}
	return value, true, nil
}

func (s *Firestore) Set(ctx context.Context, key, value string) error {
	_, err := s.client.Collection(s.collection).Doc(key).Set(ctx,
		map[string]interface{}{"value": value}, firestore.MergeAll)
	if err != nil {
		return errors.Wrapf(err, "kv set %q failed", key)
	}
	return nil
}
