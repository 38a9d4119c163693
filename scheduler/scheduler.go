package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type BackupJob interface {
	Run()
}

type SchedulerParams struct {
	Logger   zerolog.Logger
	Location *time.Location // time.Local when nil
}

func NewScheduler(params SchedulerParams) *Scheduler {
	loc := params.Location
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{logger: params.Logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger: params.Logger,
		jobs:   make(map[cron.EntryID]*GuardedJob),
		guards: make(map[string]*GuardedJob),
	}
}

type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[cron.EntryID]*GuardedJob
	// Guards by job name. They outlive RemoveJobs so a run started before a
	// reload still blocks triggers of the rescheduled job.
	guards map[string]*GuardedJob
	logger zerolog.Logger
}

// Start the scheduler in its own routine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new triggers and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("stopped waiting for running backup jobs")
	}
}

// AddBackupJob schedules job under name. A trigger that fires while the
// previous run of the same name is still going is skipped, including a run
// started before RemoveJobs.
func (s *Scheduler) AddBackupJob(name, schedule string, job BackupJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("could not add backup job: %w", err)
	}
	guarded, ok := s.guards[name]
	if !ok {
		guarded = Guard(name, job, s.logger)
		s.guards[name] = guarded
	}
	guarded.replace(job, schedule)

	entry, err := s.cron.AddJob(schedule, guarded)
	if err != nil {
		return fmt.Errorf("could not add backup job: %w", err)
	}
	s.jobs[entry] = guarded

	return nil
}

func (s *Scheduler) RemoveJobs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for entry := range s.jobs {
		s.cron.Remove(entry)
		delete(s.jobs, entry)
	}
}

type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Running  bool      `json:"running"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev"`
}

// Jobs lists the scheduled jobs by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for id, job := range s.jobs {
		e := s.cron.Entry(id)
		out = append(out, JobInfo{
			Name:     job.name,
			Schedule: job.Schedule(),
			Running:  job.Running(),
			Next:     e.Next,
			Prev:     e.Prev,
		})
	}
	slices.SortFunc(out, func(a, b JobInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
