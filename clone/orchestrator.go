package clone

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Orchestrator drives a clone from identifier resolution through to the located
// source backups.
type Orchestrator struct {
	lookup      EnvironmentLookup
	confirmer   Confirmer
	coordinator *Coordinator
	locator     *Locator
	log         *log.Logger

	policy      PollPolicy
	parallel    bool
	scoped      bool
	applier     Applier
	downloader  Downloader
	downloadDir string
	recorder    Recorder

	now      func() time.Time
	newRunID func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollPolicy sets the backup polling bounds.
func WithPollPolicy(p PollPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithParallelBackups backs up source and destination concurrently.
func WithParallelBackups(parallel bool) Option {
	return func(o *Orchestrator) { o.parallel = parallel }
}

// WithScopedBackups limits backup creation to the selected elements where the
// backup service supports it. By default whole environments are backed up.
func WithScopedBackups(scoped bool) Option {
	return func(o *Orchestrator) { o.scoped = scoped }
}

// WithApplier sets the step restoring backups onto the destination.
func WithApplier(a Applier) Option {
	return func(o *Orchestrator) { o.applier = a }
}

// WithDownloader downloads each located backup into dir.
func WithDownloader(d Downloader, dir string) Option {
	return func(o *Orchestrator) {
		o.downloader = d
		o.downloadDir = dir
	}
}

// WithRecorder records every run.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// New returns an Orchestrator using lookup to resolve environments, backups to
// create and locate backups and confirmer to ask the operator questions.
func New(lookup EnvironmentLookup, backups BackupService, confirmer Confirmer, logger *log.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		lookup:    lookup,
		confirmer: confirmer,
		log:       logger,
		policy:    DefaultPollPolicy(),
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.coordinator = NewCoordinator(backups, o.policy, logger)
	o.locator = NewLocator(backups, logger)
	return o
}

// Clone runs the clone described by req. An operator declining the version
// mismatch confirmation is not an error: the returned Result has Aborted set.
func (o *Orchestrator) Clone(ctx context.Context, req Request) (res Result, err error) {
	res = Result{
		RunID:     o.newRunID(),
		Request:   req,
		StartedAt: o.now(),
	}
	defer func() {
		res.FinishedAt = o.now()
		if o.recorder == nil {
			return
		}
		// Record even when the run was interrupted.
		if rerr := o.recorder.Record(context.WithoutCancel(ctx), res, err); rerr != nil {
			o.log.Warn("could not record clone run", "run", res.RunID, "err", rerr)
		}
	}()

	src, err := Resolve(ctx, o.lookup, req.Source)
	if err != nil {
		return res, err
	}
	dst, err := Resolve(ctx, o.lookup, req.Destination)
	if err != nil {
		return res, err
	}
	res.Source, res.Destination = src, dst
	if src.Handle == dst.Handle {
		return res, &SameEnvironmentError{Environment: src}
	}

	decision, err := Check(ctx, src, dst, o.confirmer, o.log)
	if err != nil {
		return res, err
	}
	if decision == Abort {
		o.log.Info("Clone cancelled")
		res.Aborted = true
		return res, nil
	}

	o.log.Info(fmt.Sprintf("Cloning %s to %s", src, dst))

	if req.SkipBackup {
		o.log.Info("Skipping backups, existing backups will be used")
	} else {
		res.Elements, err = Select(req.skipFlags())
		if err != nil {
			return res, err
		}
		if err = o.backupBoth(ctx, src, dst, res.Elements); err != nil {
			return res, err
		}
		res.BackupsCreated = true

		for _, element := range res.Elements {
			record, err := o.locator.FindLatest(ctx, src, element)
			if err != nil {
				return res, err
			}
			res.Backups = append(res.Backups, record)
		}
	}
	res.DestinationReady = true

	if o.downloader != nil {
		for _, record := range res.Backups {
			path, err := o.downloader.Download(ctx, record, o.downloadDir)
			if err != nil {
				return res, fmt.Errorf("could not download %s backup: %w", record.Element, err)
			}
			o.log.Info(fmt.Sprintf("Downloaded %s backup to %s", record.Element, path))
			res.Downloaded = append(res.Downloaded, path)
		}
	}

	if o.applier == nil {
		o.log.Info(fmt.Sprintf("%s is ready; restoring onto the destination is not implemented", dst))
		return res, nil
	}
	if err = o.applier.Apply(ctx, dst, res.Backups); err != nil {
		return res, fmt.Errorf("could not apply backups to %s: %w", dst.Identifier(), err)
	}
	return res, nil
}

// backupBoth backs up the source then the destination, or both at once when
// configured. Both sides are always backed up whatever the element selection.
func (o *Orchestrator) backupBoth(ctx context.Context, src, dst EnvironmentDescriptor, elements ElementSet) error {
	var scope ElementSet
	if o.scoped {
		scope = elements
	}

	if !o.parallel {
		if err := o.backupSide(ctx, "source", src, scope); err != nil {
			return err
		}
		return o.backupSide(ctx, "destination", dst, scope)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.backupSide(gctx, "source", src, scope) })
	g.Go(func() error { return o.backupSide(gctx, "destination", dst, scope) })
	return g.Wait()
}

// backupSide creates and awaits a backup of one side of the clone.
func (o *Orchestrator) backupSide(ctx context.Context, side string, env EnvironmentDescriptor, scope ElementSet) error {
	job, err := o.coordinator.Create(ctx, env, scope)
	if err != nil {
		return &BackupSideError{Side: side, Environment: env, Err: err}
	}
	if _, err := o.coordinator.Await(ctx, job); err != nil {
		return &BackupSideError{Side: side, Environment: env, Err: err}
	}
	return nil
}
