// The watchctl command registers (or stops) push notification
// watches for every mailbox on the team roster.  Watches expire
// after about a week; run this on a schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mstrand/gmailfan/internal/config"
	"github.com/mstrand/gmailfan/internal/gmail"
	"github.com/mstrand/gmailfan/internal/gmailhttp"
)

var (
	flagStop = flag.Bool("stop", false, "stop watches instead of registering them")
)

func gatewayFor(ctx context.Context, factory *gmailhttp.Factory, mailbox string, log *zap.SugaredLogger) (*gmail.Gateway, error) {
	client, err := factory.Client(mailbox)
	if err != nil {
		return nil, err
	}
	return gmail.New(ctx, client, mailbox, log)
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "unable to load configuration")
	}
	zl, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	log := zl.Sugar()
	defer log.Sync()

	factory, err := gmailhttp.NewFactory(ctx, cfg.CredentialsPath)
	if err != nil {
		return errors.Wrap(err, "unable to initialize GMail HTTP clients")
	}
	topic := fmt.Sprintf("projects/%s/topics/%s", cfg.ProjectID, cfg.Topic)

	grp, ctx := errgroup.WithContext(ctx)
	for _, user := range cfg.TeamUsers {
		user := user
		grp.Go(func() error {
			g, err := gatewayFor(ctx, factory, user, log)
			if err != nil {
				return errors.Wrapf(err, "opening mailbox %v", user)
			}
			if *flagStop {
				if err := g.Stop(ctx); err != nil {
					return err
				}
				log.Infow("watch stopped", "mailbox", user)
				return nil
			}
			res, err := g.Watch(ctx, topic, nil)
			if err != nil {
				return err
			}
			log.Infow("watch registered", "mailbox", user,
				"history_id", res.HistoryID, "expiration", res.Expiration)
			return nil
		})
	}
	return grp.Wait()
}

func main() {
	flag.Parse()
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		os.Exit(1)
	}
}
