package clone

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// quietLogger discards operator notices.
func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// fakeLookup resolves environments from a map keyed by `<site>.<environment>`.
type fakeLookup struct {
	envs  map[string]EnvironmentDescriptor
	err   error
	calls []string
}

func (f *fakeLookup) LookupEnvironment(ctx context.Context, site, environment string) (EnvironmentDescriptor, error) {
	key := site + "." + environment
	f.calls = append(f.calls, key)
	if f.err != nil {
		return EnvironmentDescriptor{}, f.err
	}
	d, ok := f.envs[key]
	if !ok {
		return EnvironmentDescriptor{}, fmt.Errorf("site lookup: %w", ErrNotFound)
	}
	return d, nil
}

// fakeBackups is an in-memory BackupService. Jobs report pending pollsBeforeDone
// times before finishing with finalState.
type fakeBackups struct {
	mu sync.Mutex

	createErr       map[string]error // keyed by environment id
	pollsBeforeDone int
	finalState      JobState
	finalMessage    string
	statusErr       error
	statusErrPolls  int // statusErr is returned for this many polls, 0 for all
	onPoll          func(poll int)

	finished map[string][]BackupEntry // keyed by environment id + "/" + element

	created []string // environment ids backed up, in order
	scoped  [][]Element
	polls   map[string]int
	jobEnv  map[string]string
}

func newFakeBackups() *fakeBackups {
	return &fakeBackups{
		createErr:  map[string]error{},
		finalState: JobComplete,
		finished:   map[string][]BackupEntry{},
		polls:      map[string]int{},
		jobEnv:     map[string]string{},
	}
}

func (f *fakeBackups) CreateBackup(ctx context.Context, env EnvironmentHandle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr[env.EnvironmentID]; err != nil {
		return "", err
	}
	f.created = append(f.created, env.EnvironmentID)
	id := fmt.Sprintf("job-%d", len(f.created))
	f.jobEnv[id] = env.EnvironmentID
	return id, nil
}

func (f *fakeBackups) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	f.mu.Lock()
	f.polls[jobID]++
	poll := f.polls[jobID]
	f.mu.Unlock()

	if f.onPoll != nil {
		f.onPoll(poll)
	}
	if f.statusErr != nil && (f.statusErrPolls == 0 || poll <= f.statusErrPolls) {
		return JobStatus{}, f.statusErr
	}
	if f.pollsBeforeDone < 0 || poll <= f.pollsBeforeDone {
		return JobStatus{State: JobPending}, nil
	}
	return JobStatus{State: f.finalState, Message: f.finalMessage}, nil
}

func (f *fakeBackups) FinishedBackups(ctx context.Context, env EnvironmentHandle, element Element) ([]BackupEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished[env.EnvironmentID+"/"+string(element)], nil
}

func (f *fakeBackups) BackupURL(ctx context.Context, env EnvironmentHandle, backupID string) (string, error) {
	return fmt.Sprintf("https://files.example.test/%s/%s.tar.gz", env.EnvironmentID, backupID), nil
}

// addFinished registers a finished backup listing, newest first.
func (f *fakeBackups) addFinished(envID string, element Element, ids ...string) {
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range ids {
		f.finished[envID+"/"+string(element)] = append(f.finished[envID+"/"+string(element)], BackupEntry{
			ID:        id,
			Element:   element,
			CreatedAt: base.Add(-time.Duration(i) * time.Hour),
		})
	}
}

// scopedBackups adds scoped creation to fakeBackups.
type scopedBackups struct {
	*fakeBackups
}

func (s scopedBackups) CreateScopedBackup(ctx context.Context, env EnvironmentHandle, elements ElementSet) (string, error) {
	s.mu.Lock()
	s.scoped = append(s.scoped, elements)
	s.mu.Unlock()
	return s.CreateBackup(ctx, env)
}

// fakeConfirmer answers every question with answer.
type fakeConfirmer struct {
	answer bool
	err    error
	asked  []string
}

func (f *fakeConfirmer) Confirm(ctx context.Context, question string) (bool, error) {
	f.asked = append(f.asked, question)
	return f.answer, f.err
}

// fakeApplier records the records it was asked to apply.
type fakeApplier struct {
	called  bool
	records []BackupRecord
	err     error
}

func (f *fakeApplier) Apply(ctx context.Context, dst EnvironmentDescriptor, records []BackupRecord) error {
	f.called = true
	f.records = records
	return f.err
}

// fakeRecorder keeps the last recorded run.
type fakeRecorder struct {
	result Result
	err    error
	count  int
}

func (f *fakeRecorder) Record(ctx context.Context, result Result, runErr error) error {
	f.count++
	f.result = result
	f.err = runErr
	return nil
}

// fakeDownloader pretends to download records into dir.
type fakeDownloader struct{}

func (fakeDownloader) Download(ctx context.Context, record BackupRecord, dir string) (string, error) {
	return dir + "/" + string(record.Element) + ".tar.gz", nil
}

// descriptor builds a test environment descriptor.
func descriptor(site, env, runtime, framework string, frozen bool) EnvironmentDescriptor {
	return EnvironmentDescriptor{
		Site:           site,
		Label:          "Site " + site,
		Name:           env,
		RuntimeVersion: runtime,
		Framework:      framework,
		Frozen:         frozen,
		Handle:         EnvironmentHandle{SiteID: "id-" + site, EnvironmentID: site + "-" + env},
	}
}
