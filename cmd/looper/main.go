// Command looper drives a looper.Scheduler from the terminal: a scripted
// barrier walkthrough, a concurrent stress run and the HTTP inspect gateway.
package main

import (
	"github.com/alecthomas/kong"
	"github.com/julywind168/looper"
	"go.uber.org/zap"
)

type Globals struct {
	Quiet bool `short:"q" help:"Silence scheduler logging."`
}

func (g Globals) logger() *zap.SugaredLogger {
	if g.Quiet {
		return zap.NewNop().Sugar()
	}
	return looper.NewDevelopmentLogger()
}

var cli struct {
	Globals

	Demo  DemoCmd  `cmd:"" help:"Replay a sync/async/barrier sequence and print the queue after every step."`
	Flood FloodCmd `cmd:"" help:"Run concurrent producers and verify exactly-once, ordered delivery."`
	Serve ServeCmd `cmd:"" help:"Run a scheduler behind the HTTP inspect gateway."`
	Token TokenCmd `cmd:"" help:"Issue a bearer token for the inspect gateway."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("looper"),
		kong.Description("Time-ordered message loop with async bypass and synchronization barriers."),
		kong.UsageOnError(),
	)

	logger := cli.logger()
	defer logger.Sync()

	ctx.FatalIfErrorf(ctx.Run(logger))
}
