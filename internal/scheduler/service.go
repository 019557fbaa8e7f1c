package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"crashrelay/internal/domain"
)

// Enqueuer accepts tasks for the dispatcher.
type Enqueuer interface {
	Enqueue(t domain.Task) bool
}

// Service enqueues periodic tasks on cron schedules.
type Service struct {
	queue Enqueuer
	cron  *cron.Cron
}

func NewService(q Enqueuer) *Service {
	return &Service{queue: q, cron: cron.New()}
}

// Every registers a task factory on a standard cron expression.
func (s *Service) Every(expr string, task func() domain.Task) error {
	if _, err := s.cron.AddFunc(expr, func() {
		t := task()
		s.queue.Enqueue(t)
		log.Debug().Str("kind", string(t.Kind)).Str("cron_expr", expr).Msg("scheduled task enqueued")
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", expr, err)
	}
	return nil
}

func (s *Service) Start() {
	s.cron.Start()
	log.Info().Int("schedules", len(s.cron.Entries())).Msg("schedule service started")
}

// Stop halts the schedules and waits for running jobs.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}
