// Package clone orchestrates copying an application's code, database and files
// from one hosted environment to another by sequencing calls to a platform backup
// service.
//
// The package owns the decision logic only: resolving `<site>.<environment>`
// identifiers, the compatibility gate, element selection, creating and awaiting
// backups and locating the latest finished backup for each element. The platform
// itself is reached through the EnvironmentLookup and BackupService interfaces.
package clone

import (
	"fmt"
	"time"
)

// Element is one of the cloneable artifacts of an environment.
type Element string

const (
	Database Element = "database"
	Code     Element = "code"
	Files    Element = "files"
)

// canonicalElements is the fixed order used for selection and messaging.
var canonicalElements = []Element{Database, Code, Files}

// EnvironmentHandle is an opaque reference to an environment held by the platform
// session. It is only ever passed back to the platform.
type EnvironmentHandle struct {
	SiteID        string
	EnvironmentID string
}

// EnvironmentDescriptor describes a resolved environment.
type EnvironmentDescriptor struct {
	Site           string // site name as supplied in the identifier
	Label          string // human readable site label
	Name           string // environment name, eg "live"
	RuntimeVersion string
	Framework      string
	Frozen         bool
	Handle         EnvironmentHandle
}

// Identifier returns the `<site>.<environment>` form of the descriptor.
func (e EnvironmentDescriptor) Identifier() string {
	return fmt.Sprintf("%s.%s", e.Site, e.Name)
}

// String describes the environment for operator messages.
func (e EnvironmentDescriptor) String() string {
	label := e.Label
	if label == "" {
		label = e.Site
	}
	return fmt.Sprintf("%q (%s)", label, e.Name)
}

// Request is a single clone invocation.
type Request struct {
	Source       string
	Destination  string
	SkipDatabase bool
	SkipFiles    bool
	SkipCode     bool
	SkipBackup   bool
}

// skipFlags extracts the element flags from the request.
func (r Request) skipFlags() SkipFlags {
	return SkipFlags{
		Database: r.SkipDatabase,
		Code:     r.SkipCode,
		Files:    r.SkipFiles,
	}
}

// JobState is the state of a backup job.
type JobState int

const (
	JobPending JobState = iota
	JobComplete
	JobFailed
)

var jobStateName = map[JobState]string{
	JobPending:  "pending",
	JobComplete: "complete",
	JobFailed:   "failed",
}

// String returns the JobState name.
func (js JobState) String() string {
	return jobStateName[js]
}

// JobStatus is the platform's report on a backup job.
type JobStatus struct {
	State   JobState
	Message string
}

// BackupJob tracks a single backup creation cycle. It is not persisted.
type BackupJob struct {
	Target EnvironmentDescriptor
	ID     string
	State  JobState
}

// BackupEntry is a finished backup as listed by the platform.
type BackupEntry struct {
	ID        string
	Element   Element
	CreatedAt time.Time
}

// BackupRecord is the latest usable backup of an element, ready for download or
// restore.
type BackupRecord struct {
	Element     Element
	CreatedAt   time.Time
	DownloadURL string
}

// Result is the outcome of a clone run.
type Result struct {
	RunID            string
	Request          Request
	Source           EnvironmentDescriptor
	Destination      EnvironmentDescriptor
	Elements         ElementSet
	Backups          []BackupRecord
	BackupsCreated   bool
	Aborted          bool
	DestinationReady bool
	Downloaded       []string
	StartedAt        time.Time
	FinishedAt       time.Time
}
