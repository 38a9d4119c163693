package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	idle int32 = iota
	running
)

// GuardedJob runs at most one instance of a job at a time.
type GuardedJob struct {
	name   string
	state  atomic.Int32
	logger zerolog.Logger

	mu       sync.Mutex
	schedule string
	job      BackupJob
}

func Guard(name string, job BackupJob, logger zerolog.Logger) *GuardedJob {
	return &GuardedJob{
		name:   name,
		job:    job,
		logger: logger.With().Str("job", name).Logger(),
	}
}

func (g *GuardedJob) Run() {
	if !g.state.CompareAndSwap(idle, running) {
		g.logger.Warn().Msg("previous backup still running, skipping this trigger")
		return
	}
	defer g.state.Store(idle)

	g.mu.Lock()
	job := g.job
	g.mu.Unlock()
	job.Run()
}

// replace swaps the job and schedule used by later triggers. A run already in
// progress keeps going and still blocks overlapping triggers.
func (g *GuardedJob) replace(job BackupJob, schedule string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.job = job
	g.schedule = schedule
}

func (g *GuardedJob) Schedule() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.schedule
}

func (g *GuardedJob) Running() bool {
	return g.state.Load() == running
}
