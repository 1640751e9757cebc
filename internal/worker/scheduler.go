package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/martinsuchenak/podd/internal/log"
	"github.com/martinsuchenak/podd/internal/model"
	"github.com/martinsuchenak/podd/internal/switchprobe"
)

// TargetLister provides the targets visited by scheduled health checks.
type TargetLister interface {
	ListTargets(filter *model.TargetFilter) ([]model.Target, error)
}

// healthCheckTimeout bounds each probe command. Unreachable hosts should
// fail the dial long before this, but a wedged session must not stall
// the whole sweep.
const healthCheckTimeout = 20 * time.Second

// Scheduler runs periodic health checks against every stored target.
// Each sweep submits one probe job per target to the worker pool, so a
// slow host delays only its own probe. Results land in the operation
// log like any other command.
type Scheduler struct {
	cron   *cron.Cron
	store  TargetLister
	runner *Runner
	pool   *Pool
}

// NewScheduler creates a scheduler. The pool must be started by the
// caller before the first sweep fires.
func NewScheduler(store TargetLister, runner *Runner, pool *Pool) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		store:  store,
		runner: runner,
		pool:   pool,
	}
}

// Start registers the health sweep under the given cron expression and
// begins scheduling. An empty expression disables the scheduler.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		log.Info("Health scheduler disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return err
	}

	s.cron.Start()
	log.Info("Health scheduler started", "schedule", schedule)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Health scheduler stopped")
}

// sweep probes every target once.
func (s *Scheduler) sweep() {
	targets, err := s.store.ListTargets(nil)
	if err != nil {
		log.Error("Health sweep failed to list targets", "error", err)
		return
	}

	log.Debug("Health sweep starting", "targets", len(targets))

	for i := range targets {
		target := targets[i]
		job := Job{
			ID: "health-" + target.ID,
			Handler: func(ctx context.Context) error {
				return s.probe(ctx, &target)
			},
		}
		if err := s.pool.Submit(job); err != nil {
			log.Error("Health sweep aborted", "error", err)
			return
		}
	}
}

// probe runs the liveness command on one target. The outcome is written
// to the operation log by the runner; only transport failures surface
// here.
func (s *Scheduler) probe(ctx context.Context, target *model.Target) error {
	result, err := s.runner.Run(ctx, target, "echo ok", healthCheckTimeout, false)
	if err != nil {
		log.Warn("Health check unreachable", "target", target.Name, "error", err)
		return err
	}

	if !result.Success {
		log.Warn("Health check failed", "target", target.Name, "exit_code", result.ExitCode)
	}

	// Targets with an upstream switch recorded also get a reachability
	// check against it. A dead switch is reported, never fatal.
	if target.SwitchAddress != "" {
		probe := switchprobe.New(target.SwitchAddress, target.SwitchCommunity)
		if _, err := probe.VLANs(ctx); err != nil {
			log.Warn("Switch unreachable", "target", target.Name, "switch", target.SwitchAddress, "error", err)
		}
	}
	return nil
}
