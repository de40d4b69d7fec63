// Package retention prunes aged message log rows on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chatlift/chatlift/internal/storage"
)

// Service runs the message log pruning job.
type Service struct {
	store    storage.Store
	cron     *cron.Cron
	parser   cron.Parser
	schedule string
	keepFor  time.Duration
	logger   *slog.Logger
}

// NewService creates the retention service. days <= 0 disables pruning.
func NewService(log *slog.Logger, store storage.Store, schedule string, days int) *Service {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		store:    store,
		cron:     cron.New(cron.WithParser(parser)),
		parser:   parser,
		schedule: schedule,
		keepFor:  time.Duration(days) * 24 * time.Hour,
		logger:   log.With(slog.String("service", "retention")),
	}
}

// Start registers and starts the cron job.
func (s *Service) Start() error {
	if s.keepFor <= 0 {
		s.logger.Info("message log retention disabled")
		return nil
	}
	pattern := strings.TrimSpace(s.schedule)
	if pattern == "" {
		pattern = "@daily"
	}
	if _, err := s.parser.Parse(pattern); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", pattern, err)
	}
	if _, err := s.cron.AddFunc(pattern, s.prune); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("message log retention scheduled",
		slog.String("pattern", pattern),
		slog.Duration("keep_for", s.keepFor))
	return nil
}

// Stop stops the cron scheduler and waits for a running job to finish.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cutoff := time.Now().UTC().Add(-s.keepFor)
	removed, err := s.store.PruneMessageLog(ctx, cutoff)
	if err != nil {
		s.logger.Error("message log prune failed", slog.Any("error", err))
		return
	}
	s.logger.Info("message log pruned",
		slog.Int64("removed", removed),
		slog.Time("cutoff", cutoff))
}
