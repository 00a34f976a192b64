// The gmailfan command subscribes to mailbox-change notifications
// and fans qualifying new messages out to the team's mailboxes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mstrand/gmailfan/internal/config"
	"github.com/mstrand/gmailfan/internal/gmail"
	"github.com/mstrand/gmailfan/internal/gmailhttp"
	"github.com/mstrand/gmailfan/internal/kv"
	"github.com/mstrand/gmailfan/internal/processor"
	"github.com/mstrand/gmailfan/internal/rules"
	"github.com/mstrand/gmailfan/internal/tracehttp"

	_ "github.com/mattn/go-sqlite3"
)

var (
	flagTrace = flag.Bool("T", false, "request debug tracing")
)

func newLogger(level string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "bad log level %q", level)
	}
	cfg.Level = lvl
	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return log.Sugar(), nil
}

func openStore(ctx context.Context, cfg *config.Config) (kv.Store, func() error, error) {
	switch cfg.StoreBackend {
	case "memory":
		return kv.NewMemory(), func() error { return nil }, nil
	case "sqlite":
		s, err := kv.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "firestore":
		s, err := kv.OpenFirestore(ctx, cfg.ProjectID, cfg.FirestorePrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, errors.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// gatewayOpener hands out one Gateway per mailbox, cached for the
// life of the process.
type gatewayOpener struct {
	factory *gmailhttp.Factory
	log     *zap.SugaredLogger

	mu       sync.Mutex
	gateways map[string]*gmail.Gateway
}

func (o *gatewayOpener) Open(ctx context.Context, mailbox string) (processor.Mailbox, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if g, ok := o.gateways[mailbox]; ok {
		return g, nil
	}
	client, err := o.factory.Client(mailbox)
	if err != nil {
		return nil, err
	}
	g, err := gmail.New(ctx, client, mailbox, o.log)
	if err != nil {
		return nil, err
	}
	o.gateways[mailbox] = g
	return g, nil
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "unable to load configuration")
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()
	if *flagTrace {
		tracehttp.WrapDefaultTransport(log)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "unable to initialize state store")
	}
	defer closeStore()

	factory, err := gmailhttp.NewFactory(ctx, cfg.CredentialsPath)
	if err != nil {
		return errors.Wrap(err, "unable to initialize GMail HTTP clients")
	}
	opener := &gatewayOpener{
		factory:  factory,
		log:      log,
		gateways: make(map[string]*gmail.Gateway),
	}

	eng := processor.New(opener, store, rules.NewSubjectRule(cfg.SubjectPhrase),
		cfg.TeamUsers, cfg.LabelName, log)

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return errors.Wrap(err, "unable to initialize Pub/Sub client")
	}
	defer client.Close()

	sub := client.Subscription(cfg.Subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding

	log.Infow("subscribed", "subscription", cfg.Subscription, "team", cfg.TeamUsers)
	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		if err := eng.ProcessNotification(ctx, m.Data, m.Attributes); err != nil {
			log.Errorw("cycle failed, requesting redelivery", "err", err)
			m.Nack()
			return
		}
		m.Ack()
	})
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		os.Exit(1)
	}
}
