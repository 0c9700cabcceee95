package main

import (
	"context"
	"log/slog"

	"github.com/modoterra/hearth/pkg/config"
	"github.com/modoterra/hearth/pkg/core"
	"github.com/modoterra/hearth/pkg/daemon"
	"github.com/modoterra/hearth/pkg/providers/logs/filetail"
	"github.com/modoterra/hearth/pkg/providers/logs/journald"
)

// startSources starts a collector per source and returns their line
// channels. A source that fails to start is logged and skipped so one
// missing file does not take the daemon down.
func startSources(ctx context.Context, sources []config.Source, logger *slog.Logger) []<-chan core.LogLine {
	files := filetail.New(logger)
	journal := journald.New(logger)

	var out []<-chan core.LogLine
	for _, s := range sources {
		var (
			lines <-chan core.LogLine
			err   error
		)
		switch s.Kind {
		case config.KindFile:
			lines, err = files.Subscribe(ctx, s.Origin(), s.Path)
		case config.KindJournal:
			lines, err = journal.Subscribe(ctx, s.Origin(), s.Unit)
		case config.KindExec:
			c := daemon.NewCommandCollector(s.Origin(), s.Command, logger)
			c.Dir = s.Dir
			c.Env = s.Env
			lines, err = c.Collect(ctx)
		default:
			logger.Warn("unsupported source kind", "kind", s.Kind, "source", s.Name())
			continue
		}
		if err != nil {
			logger.Error("log source not started", "source", s.Name(), "kind", s.Kind, "err", err)
			continue
		}
		out = append(out, lines)
	}
	return out
}

func journalUnits(sources []config.Source) []string {
	var units []string
	for _, s := range sources {
		if s.Kind == config.KindJournal {
			units = append(units, s.Unit)
		}
	}
	return units
}

func describeSource(s config.Source) string {
	switch s.Kind {
	case config.KindFile:
		return s.Path
	case config.KindJournal:
		return s.Unit
	case config.KindExec:
		return s.Command
	}
	return ""
}
