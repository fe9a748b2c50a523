package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/buffer"
	"github.com/mklimuk/newjoy/cmd/newjoy/console"
	"github.com/mklimuk/newjoy/pkg/config"
	"github.com/mklimuk/newjoy/scheduler"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   "newjoy.yaml",
	Usage:   "configuration file",
}

var sampleCmd = cli.Command{
	Name:  "sample",
	Usage: "run the configured tasks and print every record",
	Flags: withFlags(
		configFlag,
		&cli.DurationFlag{
			Name:  "stats",
			Value: 10 * time.Second,
			Usage: "statistics dump period",
		},
	),
	Action: func(c *cli.Context) error {
		conf, err := config.Load(c.String("config"))
		if err != nil {
			return console.Exit(1, "config error: %s", console.Red(err))
		}
		ctx, stop := signal.NotifyContext(commandContext(c), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bus, closer, err := openBus(c, conf.Bus)
		if err != nil {
			return console.Exit(1, "bus initialization error: %s", console.Red(err))
		}
		defer closeQuietly("bus", closer)
		buf, sched, err := buildScheduler(ctx, conf, bus)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() {
			if err := sched.Deinit(context.Background()); err != nil {
				console.Errorf("deinit error: %s", err)
			}
		}()

		ticker := time.NewTicker(conf.Period)
		defer ticker.Stop()
		dump := time.NewTicker(c.Duration("stats"))
		defer dump.Stop()
		for {
			select {
			case <-ctx.Done():
				printSchedulerStats(sched)
				return nil
			case <-dump.C:
				printSchedulerStats(sched)
			case <-ticker.C:
				if err := sched.Sync(ctx); err != nil {
					if ctx.Err() != nil {
						continue
					}
					return console.Exit(1, "sync error: %s", console.Red(err))
				}
				printRecords(conf, buf)
			}
		}
	},
}

// buildScheduler creates the buffer and registers every configured task.
func buildScheduler(ctx context.Context, conf config.Config, bus newjoy.I2CBus) (*buffer.Buffer, *scheduler.Scheduler, error) {
	buf, err := buffer.New(conf.BufferSize)
	if err != nil {
		return nil, nil, err
	}
	sched, err := scheduler.New(conf.Capacity, buf)
	if err != nil {
		return nil, nil, err
	}
	for i, t := range conf.Tasks {
		_, err := sched.AddTask(ctx, bus, t.Addr(), t.Kind, t.Offset, scheduler.WithInterval(t.Interval()))
		if err != nil {
			_ = sched.Deinit(ctx)
			return nil, nil, fmt.Errorf("task %d: %w", i, err)
		}
	}
	return buf, sched, nil
}

func printRecords(conf config.Config, buf *buffer.Buffer) {
	for _, t := range conf.Tasks {
		record, err := buf.Read(t.Offset, t.Kind.Size())
		if err != nil {
			console.Errorf("%v: %s", t.Kind, err)
			continue
		}
		console.Printf("%-8s %s\n", t.Kind, t.Kind.Format(record))
	}
}

type taskReport struct {
	Kind     string `yaml:"kind"`
	Address  string `yaml:"address"`
	Offset   int    `yaml:"offset"`
	Interval string `yaml:"interval"`
	Polls    uint64 `yaml:"polls"`
	Failures uint64 `yaml:"failures"`
	Error    string `yaml:"error,omitempty"`
}

type schedulerReport struct {
	Ticks  uint64       `yaml:"ticks"`
	Errors uint64       `yaml:"errors"`
	Tasks  []taskReport `yaml:"tasks"`
}

func printSchedulerStats(s *scheduler.Scheduler) {
	report := schedulerReport{Ticks: s.Ticks(), Errors: s.Errors()}
	for _, st := range s.Stats() {
		r := taskReport{
			Kind:     st.Kind.String(),
			Address:  fmt.Sprintf("0x%02x", st.Address),
			Offset:   st.Offset,
			Interval: st.Interval,
			Polls:    st.Polls,
			Failures: st.Failures,
		}
		if st.LastError != nil {
			r.Error = st.LastError.Error()
		}
		report.Tasks = append(report.Tasks, r)
	}
	printYAML(report)
}

func printYAML(v any) {
	enc := yaml.NewEncoder(os.Stdout)
	defer func() { _ = enc.Close() }()
	if err := enc.Encode(v); err != nil {
		console.Errorf("encoding error: %s", err)
	}
}
