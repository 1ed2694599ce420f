package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julywind168/looper"
	"github.com/julywind168/looper/inspect"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ServeCmd struct {
	Addr            string        `default:":8080" help:"Listen address."`
	Secret          string        `env:"LOOPER_SECRET" help:"Require HS256 bearer tokens signed with this secret on mutating routes."`
	RateLimit       float64       `default:"0" help:"Requests per second per client IP. Zero disables limiting."`
	Replay          int           `default:"128" help:"Events replayed to new websocket clients."`
	DeliveryTimeout time.Duration `default:"5s" help:"Context deadline handed to each delivery."`
	SlowDelivery    time.Duration `default:"100ms" help:"Log deliveries slower than this."`
	ShutdownTimeout time.Duration `default:"5s" help:"How long to wait for in-flight work on exit."`
}

func (c *ServeCmd) Run(logger *zap.SugaredLogger) error {
	sched := looper.New(
		looper.WithName("serve"),
		looper.WithLogger(logger),
		looper.WithDeliveryTimeout(c.DeliveryTimeout),
		looper.WithSlowDeliveryThreshold(c.SlowDelivery, nil),
		looper.WithSink(looper.SinkFunc(func(_ context.Context, m looper.Message) error {
			logger.Infow("delivered", "id", m.ID, "async", m.Async, "payload", m.Payload)
			return nil
		})),
	)
	if err := sched.Start(); err != nil {
		return err
	}

	srv := inspect.New(sched,
		inspect.WithLogger(logger),
		inspect.WithAuthSecret(c.Secret),
		inspect.WithRateLimit(c.RateLimit),
		inspect.WithReplaySize(c.Replay),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(c.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return multierr.Combine(
			srv.Shutdown(sctx),
			sched.Shutdown(c.ShutdownTimeout),
		)
	})
	return g.Wait()
}
