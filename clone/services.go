package clone

import "context"

// EnvironmentLookup resolves a site and environment name to a descriptor. A
// missing site or environment is reported with an error wrapping ErrNotFound.
type EnvironmentLookup interface {
	LookupEnvironment(ctx context.Context, site, environment string) (EnvironmentDescriptor, error)
}

// BackupService is the platform's backup creation and listing interface.
type BackupService interface {
	// CreateBackup starts a whole-environment backup and returns the job id.
	CreateBackup(ctx context.Context, env EnvironmentHandle) (string, error)
	// JobStatus reports on a job started by CreateBackup.
	JobStatus(ctx context.Context, jobID string) (JobStatus, error)
	// FinishedBackups lists finished backups of an element, newest first.
	FinishedBackups(ctx context.Context, env EnvironmentHandle, element Element) ([]BackupEntry, error)
	// BackupURL returns a download url for a backup.
	BackupURL(ctx context.Context, env EnvironmentHandle, backupID string) (string, error)
}

// ScopedBackupCreator is implemented by backup services able to back up only a
// subset of an environment's elements.
type ScopedBackupCreator interface {
	CreateScopedBackup(ctx context.Context, env EnvironmentHandle, elements ElementSet) (string, error)
}

// Confirmer asks the operator a yes/no question, blocking until answered.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Applier restores backup records onto the destination environment.
type Applier interface {
	Apply(ctx context.Context, destination EnvironmentDescriptor, records []BackupRecord) error
}

// Downloader saves a backup record to local storage, returning the path written.
type Downloader interface {
	Download(ctx context.Context, record BackupRecord, dir string) (string, error)
}

// Recorder keeps a record of clone runs. runErr is the error the run ended with, if
// any.
type Recorder interface {
	Record(ctx context.Context, result Result, runErr error) error
}
