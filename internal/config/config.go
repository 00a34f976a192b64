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

// Package config loads deployment configuration from the
// environment.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the full deployment configuration.
type Config struct {
	// ProjectID is the cloud project holding the Pub/Sub topic,
	// the subscription and (when selected) the Firestore store.
	ProjectID string

	// Topic and Subscription name the push notification channel.
	Topic        string
	Subscription string

	// TeamUsers is the fan-out roster, in delivery order.
	TeamUsers []string

	// LabelName is the shared label applied to every copy.
	LabelName string

	// SubjectPhrase is the phrase a subject must equal or end
	// with to qualify for fan-out.
	SubjectPhrase string

	// StoreBackend selects the durable state store:
	// "memory", "sqlite" or "firestore".
	StoreBackend string

	// SQLitePath locates the sqlite store when selected.
	SQLitePath string

	// FirestorePrefix prefixes the Firestore KV collection name.
	FirestorePrefix string

	// LogLevel is "debug", "info", "warn" or "error".
	LogLevel string

	// CredentialsPath locates the delegated service account key.
	CredentialsPath string

	// MaxOutstanding bounds concurrently handled notifications.
	MaxOutstanding int
}

// Load reads configuration from environment variables, applying
// defaults for everything optional.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("gcp_project_id", "")
	v.SetDefault("gcp_pubsub_topic", "")
	v.SetDefault("gcp_pubsub_subscription", "")
	v.SetDefault("team_users", "")
	v.SetDefault("gmail_label_name", "Training Exercise")
	v.SetDefault("subject_phrase", "Training Exercise")
	v.SetDefault("store_backend", "firestore")
	v.SetDefault("sqlite_path", "gmailfan.db")
	v.SetDefault("firestore_collection_prefix", "gts")
	v.SetDefault("log_level", "info")
	v.SetDefault("google_application_credentials", "")
	v.SetDefault("pull_concurrency", 10)

	cfg := &Config{
		ProjectID:       v.GetString("gcp_project_id"),
		Topic:           v.GetString("gcp_pubsub_topic"),
		Subscription:    v.GetString("gcp_pubsub_subscription"),
		TeamUsers:       splitUsers(v.GetString("team_users")),
		LabelName:       v.GetString("gmail_label_name"),
		SubjectPhrase:   v.GetString("subject_phrase"),
		StoreBackend:    v.GetString("store_backend"),
		SQLitePath:      v.GetString("sqlite_path"),
		FirestorePrefix: v.GetString("firestore_collection_prefix"),
		LogLevel:        v.GetString("log_level"),
		CredentialsPath: v.GetString("google_application_credentials"),
		MaxOutstanding:  v.GetInt("pull_concurrency"),
	}
	return cfg, cfg.validate()
}

func splitUsers(s string) []string {
	var users []string
	for _, u := range strings.Split(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	return users
}

func (c *Config) validate() error {
	if len(c.TeamUsers) == 0 {
		return errors.New("TEAM_USERS must list at least one mailbox")
	}
	switch c.StoreBackend {
	case "memory", "sqlite":
	case "firestore":
		if c.ProjectID == "" {
			return errors.New("GCP_PROJECT_ID is required with the firestore store")
		}
	default:
		return errors.Errorf("unknown store backend %q", c.StoreBackend)
	}
	return nil
}
