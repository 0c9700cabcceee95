package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/modoterra/hearth/pkg/core"
	"github.com/modoterra/hearth/pkg/export"
	"github.com/modoterra/hearth/pkg/stream"
)

// followDedup bounds the keys kept to drop redelivered lines while following.
const followDedup = 10000

// --- Events ---

var eventsJSON bool

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the server event feed until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, closer, err := cliLogger(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, cancel := signalContext()
		defer cancel()

		opener, _ := endpoints(cfg)
		out := cmd.OutOrStdout()
		var mu sync.Mutex
		sink := stream.SinkFunc(func(e core.Event) {
			mu.Lock()
			defer mu.Unlock()
			printEvent(out, e, time.Now(), eventsJSON)
		})
		status := stream.NewStatusTracker()
		go reportStatus(ctx, cmd.ErrOrStderr(), "events", status)

		loop := stream.NewLoop(stream.FeedEvents, opener, sink, status, stream.LoopOptions{
			Delay:  stream.JitteredDelay(cfg.Reconnect.Delay.D(), cfg.Reconnect.Jitter.D()),
			Logger: logger,
		})
		loop.Run(ctx)
		return nil
	},
}

func init() {
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "print events in wire form")
}

func printEvent(w io.Writer, e core.Event, at time.Time, asJSON bool) {
	if asJSON {
		b, err := core.EncodeEvent(e)
		if err != nil {
			return
		}
		fmt.Fprintln(w, string(b))
		return
	}
	fmt.Fprintf(w, "%s  %s\n", at.Format("15:04:05"), core.Describe(e))
}

// reportStatus prints connection status changes until ctx is done.
func reportStatus(ctx context.Context, w io.Writer, feed string, status *stream.StatusTracker) {
	ch, cancel := status.Watch()
	defer cancel()
	last := status.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if s := status.Get(); s != last {
				last = s
				fmt.Fprintf(w, "[%s] %s\n", feed, s.Label())
			}
		}
	}
}

// --- Logs ---

var (
	logsSince  int
	logsFollow bool
	exportOut  string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print recent log lines, optionally following the live tail",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, closer, err := cliLogger(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, cancel := signalContext()
		defer cancel()

		since := logsSince
		if !cmd.Flags().Changed("since") {
			since = cfg.Logs.SinceSeconds
		}
		opener, history := endpoints(cfg)

		// Keys of printed lines; a reconnect may redeliver some of them.
		seen := stream.NewAccumulator(stream.AccumulatorOptions{Capacity: followDedup})
		out := cmd.OutOrStdout()

		res, err := history.FetchLogs(ctx, since)
		if err != nil {
			return fmt.Errorf("fetch logs: %w", err)
		}
		for _, l := range res.Entries {
			if seen.IngestLive(l) {
				printLine(out, l)
			}
		}
		if !logsFollow {
			return nil
		}

		var mu sync.Mutex
		sink := stream.SinkFunc(func(e core.Event) {
			l, ok := e.(core.LogLine)
			if !ok {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen.IngestLive(l) {
				printLine(out, l)
			}
		})
		status := stream.NewStatusTracker()
		go reportStatus(ctx, cmd.ErrOrStderr(), "logs", status)

		loop := stream.NewLoop(stream.FeedLogs, opener, sink, status, stream.LoopOptions{
			Delay:  stream.JitteredDelay(cfg.Reconnect.Delay.D(), cfg.Reconnect.Jitter.D()),
			Logger: logger,
		})
		loop.Run(ctx)
		return nil
	},
}

func printLine(w io.Writer, l core.LogLine) {
	fmt.Fprintf(w, "%s %s/%s: %s\n", l.Timestamp.Local().Format(time.DateTime), l.Namespace, l.Source, l.Message)
}

var logsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write recent log lines to an NDJSON file (.zst to compress)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if exportOut == "" {
			return fmt.Errorf("--out is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		since := logsSince
		if !cmd.Flags().Changed("since") {
			since = cfg.Logs.SinceSeconds
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_, history := endpoints(cfg)
		res, err := history.FetchLogs(ctx, since)
		if err != nil {
			return fmt.Errorf("fetch logs: %w", err)
		}
		written, err := export.ToFile(exportOut, res.Entries)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d lines (%s) to %s\n",
			written.Lines, humanize.Bytes(uint64(written.Bytes)), exportOut)
		return nil
	},
}

func init() {
	logsCmd.PersistentFlags().IntVar(&logsSince, "since", 300, "seconds of history to fetch")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep printing new lines")
	logsExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file")
	logsCmd.AddCommand(logsExportCmd)
}
