package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/julywind168/looper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type FloodCmd struct {
	Producers  int           `default:"8" help:"Concurrent producer goroutines."`
	Messages   int           `default:"1000" help:"Messages per producer."`
	AsyncEvery int           `default:"3" help:"Every n-th message of a producer is async. Zero disables async."`
	Barriers   bool          `default:"true" negatable:"" help:"Toggle barriers while producers run."`
	Timeout    time.Duration `default:"30s" help:"Give up if delivery has not finished by then."`
}

func (c *FloodCmd) Run(logger *zap.SugaredLogger) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	report, err := runFlood(ctx, logger, floodConfig{
		producers:  c.Producers,
		messages:   c.Messages,
		asyncEvery: c.AsyncEvery,
		barriers:   c.Barriers,
	})
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	}
	return err
}

type floodConfig struct {
	producers  int
	messages   int
	asyncEvery int
	barriers   bool
}

type floodItem struct {
	Producer int
	Seq      int
	Async    bool
}

func (it floodItem) String() string {
	return fmt.Sprintf("p%d#%d", it.Producer, it.Seq)
}

type floodReport struct {
	Delivered      int             `json:"delivered"`
	Duplicates     int             `json:"duplicates"`
	OutOfOrder     int             `json:"out_of_order"`
	BarrierToggles int64           `json:"barrier_toggles"`
	Elapsed        string          `json:"elapsed"`
	Metrics        *looper.Metrics `json:"metrics"`
}

// floodCheck runs on the loop goroutine only.
type floodCheck struct {
	total     int
	seen      map[[2]int]bool
	last      map[[2]int]int
	report    floodReport
	delivered chan struct{}
}

func (fc *floodCheck) Deliver(_ context.Context, m looper.Message) error {
	it := m.Payload.(floodItem)

	id := [2]int{it.Producer, it.Seq}
	if fc.seen[id] {
		fc.report.Duplicates++
		return nil
	}
	fc.seen[id] = true

	// async messages may pass sync ones held by a barrier, so order is only
	// tracked per producer and kind
	lane := [2]int{it.Producer, 0}
	if it.Async {
		lane[1] = 1
	}
	if prev, ok := fc.last[lane]; ok && it.Seq < prev {
		fc.report.OutOfOrder++
	}
	fc.last[lane] = it.Seq

	fc.report.Delivered++
	if fc.report.Delivered == fc.total {
		close(fc.delivered)
	}
	return nil
}

func runFlood(ctx context.Context, logger looper.Logger, cfg floodConfig) (*floodReport, error) {
	fc := &floodCheck{
		total:     cfg.producers * cfg.messages,
		seen:      make(map[[2]int]bool),
		last:      make(map[[2]int]int),
		delivered: make(chan struct{}),
	}
	if fc.total == 0 {
		close(fc.delivered)
	}

	sched := looper.New(looper.WithName("flood"), looper.WithLogger(logger), looper.WithSink(fc))
	if err := sched.Start(); err != nil {
		return nil, err
	}
	defer sched.Shutdown(time.Second)

	start := time.Now()
	var toggles atomic.Int64
	stop := make(chan struct{})

	var barriers errgroup.Group
	if cfg.barriers {
		barriers.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				token, err := sched.PostBarrier()
				if err != nil {
					return err
				}
				time.Sleep(time.Millisecond)
				if err := sched.RemoveBarrier(token); err != nil {
					return err
				}
				toggles.Add(1)
			}
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for p := range cfg.producers {
		g.Go(func() error {
			for n := range cfg.messages {
				if err := gctx.Err(); err != nil {
					return err
				}
				async := cfg.asyncEvery > 0 && n%cfg.asyncEvery == 0
				if _, err := sched.Enqueue(floodItem{Producer: p, Seq: n, Async: async}, 0, async); err != nil {
					return fmt.Errorf("producer %d: %w", p, err)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	close(stop)
	if berr := barriers.Wait(); err == nil {
		err = berr
	}
	if err != nil {
		return nil, err
	}

	select {
	case <-fc.delivered:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for delivery: %w", ctx.Err())
	}

	report := fc.report
	report.BarrierToggles = toggles.Load()
	report.Elapsed = time.Since(start).String()
	report.Metrics = sched.GetMetrics(false)
	if report.Duplicates > 0 || report.OutOfOrder > 0 {
		return &report, fmt.Errorf("flood: %d duplicates, %d out of order", report.Duplicates, report.OutOfOrder)
	}
	return &report, nil
}
