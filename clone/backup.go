package clone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
)

// PollPolicy bounds the polling of a backup job.
type PollPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxWait         time.Duration
}

// DefaultPollPolicy polls after 2s, backing off to once a minute, for at most an
// hour.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		InitialInterval: 2 * time.Second,
		MaxInterval:     time.Minute,
		MaxWait:         time.Hour,
	}
}

// errStillRunning is the retryable poll result.
var errStillRunning = errors.New("backup still running")

// Coordinator creates backups and waits for them to finish.
type Coordinator struct {
	service BackupService
	policy  PollPolicy
	log     *log.Logger
}

// NewCoordinator returns a Coordinator. Zero fields in policy take their defaults.
func NewCoordinator(service BackupService, policy PollPolicy, logger *log.Logger) *Coordinator {
	def := DefaultPollPolicy()
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = def.InitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = def.MaxInterval
	}
	if policy.MaxWait <= 0 {
		policy.MaxWait = def.MaxWait
	}
	return &Coordinator{service: service, policy: policy, log: logger}
}

// Create starts a backup of env. A nil scope backs up the whole environment;
// otherwise, if the service supports it, only the scoped elements are backed up.
func (c *Coordinator) Create(ctx context.Context, env EnvironmentDescriptor, scope ElementSet) (BackupJob, error) {
	var (
		id  string
		err error
	)
	scoped, canScope := c.service.(ScopedBackupCreator)
	switch {
	case len(scope) > 0 && canScope:
		c.log.Info(fmt.Sprintf("Creating %s backup of %s", scope, env))
		id, err = scoped.CreateScopedBackup(ctx, env.Handle, scope)
	default:
		if len(scope) > 0 {
			c.log.Debug("backup service cannot scope backups, backing up the whole environment")
		}
		c.log.Info(fmt.Sprintf("Creating backup of %s", env))
		id, err = c.service.CreateBackup(ctx, env.Handle)
	}
	if err != nil {
		return BackupJob{}, fmt.Errorf("could not create backup of %s: %w", env.Identifier(), err)
	}
	return BackupJob{Target: env, ID: id, State: JobPending}, nil
}

// Await polls job until it completes, fails, exceeds the maximum wait or ctx is
// cancelled. Only a completed job is returned. Status errors wrapping
// ErrTransient are retried on the same schedule; if they persist until the
// maximum wait the last of them is returned. Any other status error ends the
// wait.
func (c *Coordinator) Await(ctx context.Context, job BackupJob) (BackupJob, error) {
	env := job.Target
	c.log.Info(fmt.Sprintf("Waiting for backup of %s to finish", env))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.policy.InitialInterval
	b.MaxInterval = c.policy.MaxInterval
	b.MaxElapsedTime = c.policy.MaxWait
	b.Reset()

	started := time.Now()
	poll := func() error {
		status, err := c.service.JobStatus(ctx, job.ID)
		if err != nil {
			err = fmt.Errorf("could not get status of backup job %s: %w", job.ID, err)
			if errors.Is(err, ErrTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		switch status.State {
		case JobComplete:
			return nil
		case JobFailed:
			return backoff.Permanent(&BackupFailedError{Environment: env, JobID: job.ID, Message: status.Message})
		}
		return errStillRunning
	}
	notify := func(err error, next time.Duration) {
		if errors.Is(err, ErrTransient) {
			c.log.Debug("backup status unavailable, retrying", "env", env.Identifier(), "job", job.ID, "err", err, "next_poll", next)
			return
		}
		c.log.Debug("backup still running", "env", env.Identifier(), "job", job.ID, "next_poll", next)
	}

	err := backoff.RetryNotify(poll, backoff.WithContext(b, ctx), notify)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		return BackupJob{}, &CancelledError{Environment: env, JobID: job.ID}
	case errors.Is(err, errStillRunning), errors.Is(err, context.DeadlineExceeded):
		return BackupJob{}, &TimeoutError{Environment: env, JobID: job.ID, Waited: time.Since(started)}
	default:
		return BackupJob{}, err
	}

	job.State = JobComplete
	c.log.Info(fmt.Sprintf("Backup of %s finished", env))
	return job, nil
}

// Locator finds the latest finished backups of an environment.
type Locator struct {
	service BackupService
	log     *log.Logger
}

// NewLocator returns a Locator.
func NewLocator(service BackupService, logger *log.Logger) *Locator {
	return &Locator{service: service, log: logger}
}

// FindLatest returns the most recent finished backup of element on env. The
// service lists newest first, so the first entry is taken.
func (l *Locator) FindLatest(ctx context.Context, env EnvironmentDescriptor, element Element) (BackupRecord, error) {
	entries, err := l.service.FinishedBackups(ctx, env.Handle, element)
	if err != nil {
		return BackupRecord{}, fmt.Errorf("could not list %s backups of %s: %w", element, env.Identifier(), err)
	}
	if len(entries) == 0 {
		return BackupRecord{}, &NoBackupFoundError{Element: element, Environment: env}
	}

	latest := entries[0]
	url, err := l.service.BackupURL(ctx, env.Handle, latest.ID)
	if err != nil {
		return BackupRecord{}, fmt.Errorf("could not get url for %s backup %s of %s: %w", element, latest.ID, env.Identifier(), err)
	}
	l.log.Debug("located backup", "env", env.Identifier(), "element", element, "created", latest.CreatedAt)
	return BackupRecord{
		Element:     element,
		CreatedAt:   latest.CreatedAt,
		DownloadURL: url,
	}, nil
}
