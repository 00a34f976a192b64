/*
Package gmailhttp builds HTTP clients authorized to act as team
mailboxes.

Authorization uses a service account with domain-wide delegation: the
account's JWT config impersonates each team mailbox by setting the
token subject, so the program holds one independently-authorized
client per mailbox.  The service account key is read once; clients
are cached per mailbox for the life of the factory.

Token refresh is handled by golang.org/x/oauth2; each client's
transport re-fetches bearer tokens as they expire.
*/
package gmailhttp

import (
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/mstrand/gmailfan/internal/gmail"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
)

// Factory hands out per-mailbox authorized HTTP clients.
type Factory struct {
	ctx         context.Context
	credentials []byte

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewFactory reads the service account key at path.  The returned
// factory is safe for concurrent use.
func NewFactory(ctx context.Context, path string) (*Factory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading service account key %q", path)
	}
	// Validate the key once so a bad deployment fails at startup,
	// not on the first notification.
	if _, err := google.JWTConfigFromJSON(data, gmail.Scopes...); err != nil {
		return nil, errors.Wrapf(err, "parsing service account key %q", path)
	}
	return &Factory{ctx: ctx, credentials: data, clients: make(map[string]*http.Client)}, nil
}

// Client returns an HTTP client authorized to act as mailbox.
func (f *Factory) Client(mailbox string) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[mailbox]; ok {
		return c, nil
	}
	conf, err := google.JWTConfigFromJSON(f.credentials, gmail.Scopes...)
	if err != nil {
		return nil, errors.Wrap(err, "parsing service account key")
	}
	conf.Subject = mailbox
	c := conf.Client(f.ctx)
	f.clients[mailbox] = c
	return c, nil
}
