package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/julywind168/looper"
	"go.uber.org/zap"
)

const (
	stepSync      = "sync"
	stepAsync     = "async"
	stepBarrier   = "barrier"
	stepUnbarrier = "unbarrier"
)

type DemoCmd struct {
	Steps  []string      `arg:"" optional:"" default:"sync,async,barrier,sync,async,sync,unbarrier" help:"Steps to run: sync, async, barrier or unbarrier."`
	Unit   time.Duration `default:"1s" help:"Delay per message already sent, so the n-th message is due after n units."`
	Pause  time.Duration `default:"300ms" help:"Pause between steps."`
	Linger time.Duration `default:"10s" help:"How long to wait for the queue to drain after the last step."`
}

func (c *DemoCmd) Run(logger *zap.SugaredLogger) error {
	for _, step := range c.Steps {
		switch step {
		case stepSync, stepAsync, stepBarrier, stepUnbarrier:
		default:
			return fmt.Errorf("unknown step %q", step)
		}
	}
	return runDemo(os.Stdout, logger, c.Steps, c.Unit, c.Pause, c.Linger)
}

// demo mirrors a small UI with four buttons. Every sent message counts towards
// the next delay, and the count resets whenever the queue drains.
type demo struct {
	sched *looper.Scheduler
	out   io.Writer
	unit  time.Duration

	mu     sync.Mutex
	count  int
	tokens []looper.Token
}

func runDemo(out io.Writer, logger looper.Logger, steps []string, unit, pause, linger time.Duration) error {
	d := &demo{out: out, unit: unit}
	d.sched = looper.New(
		looper.WithName("demo"),
		looper.WithLogger(logger),
		looper.WithSink(looper.SinkFunc(d.receive)),
	)
	if err := d.sched.Start(); err != nil {
		return err
	}
	defer d.sched.Shutdown(time.Second)

	for _, step := range steps {
		if err := d.press(step); err != nil {
			return err
		}
		time.Sleep(pause)
	}

	deadline := time.Now().Add(linger)
	for d.sched.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := d.sched.Len(); n > 0 {
		fmt.Fprintf(out, "%d entries still queued, barriers held: %v\n", n, d.sched.Barriers())
	}
	return nil
}

func (d *demo) press(step string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch step {
	case stepSync, stepAsync:
		d.count++
		async := step == stepAsync
		content := fmt.Sprintf("%s message %d", step, d.count)
		if _, err := d.sched.Enqueue(content, d.unit*time.Duration(d.count), async); err != nil {
			return err
		}
	case stepBarrier:
		token, err := d.sched.PostBarrier()
		if err != nil {
			return err
		}
		d.tokens = append(d.tokens, token)
		fmt.Fprintf(d.out, "posted barrier token=%d\n", token)
	case stepUnbarrier:
		if len(d.tokens) == 0 {
			fmt.Fprintln(d.out, "no barrier to remove")
			return nil
		}
		token := d.tokens[len(d.tokens)-1]
		d.tokens = d.tokens[:len(d.tokens)-1]
		if err := d.sched.RemoveBarrier(token); err != nil {
			return err
		}
		fmt.Fprintf(d.out, "removed barrier token=%d\n", token)
	}
	d.printLocked()
	return nil
}

func (d *demo) receive(_ context.Context, m looper.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fmt.Fprintf(d.out, "receive %v\n", m.Payload)
	d.printLocked()
	return nil
}

func (d *demo) printLocked() {
	entries := d.sched.Snapshot()
	if len(entries) == 0 {
		fmt.Fprintln(d.out, "  no message")
		d.count = 0
		return
	}
	now := time.Now()
	for _, e := range entries {
		fmt.Fprintf(d.out, "  %s\n", e.Format(now))
	}
}
