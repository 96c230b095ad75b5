package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"siteclone/apiclients/platform"
	"siteclone/clone"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// platformService adapts the platform API client to the clone package's
// environment lookup and backup service interfaces.
type platformService struct {
	client *platform.Client
}

// LookupEnvironment resolves a site and one of its environments. A site is
// frozen for clone purposes if either the site or the environment is frozen.
func (s *platformService) LookupEnvironment(ctx context.Context, site, environment string) (clone.EnvironmentDescriptor, error) {
	st, err := s.client.GetSite(ctx, site)
	if err != nil {
		return clone.EnvironmentDescriptor{}, notFound(err)
	}
	env, err := s.client.GetEnvironment(ctx, st.ID, environment)
	if err != nil {
		return clone.EnvironmentDescriptor{}, notFound(err)
	}
	name := env.Name
	if name == "" {
		name = environment
	}
	return clone.EnvironmentDescriptor{
		Site:           site,
		Label:          st.Label,
		Name:           name,
		RuntimeVersion: string(env.PHPVersion),
		Framework:      st.Framework,
		Frozen:         bool(st.Frozen) || bool(env.Frozen),
		Handle: clone.EnvironmentHandle{
			SiteID:        st.ID,
			EnvironmentID: env.ID,
		},
	}, nil
}

// notFound marks platform 404s as clone.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, platform.ErrNotFound) {
		return fmt.Errorf("%w: %w", clone.ErrNotFound, err)
	}
	return err
}

// transient marks a server side platform failure as worth retrying.
func transient(err error) error {
	var apiErr *platform.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %w", clone.ErrTransient, err)
	}
	return err
}

// CreateBackup starts a whole-environment backup.
func (s *platformService) CreateBackup(ctx context.Context, env clone.EnvironmentHandle) (string, error) {
	return s.client.CreateBackup(ctx, env.SiteID, env.EnvironmentID, nil)
}

// CreateScopedBackup starts a backup of only the given elements.
func (s *platformService) CreateScopedBackup(ctx context.Context, env clone.EnvironmentHandle, elements clone.ElementSet) (string, error) {
	names := make([]string, len(elements))
	for i, e := range elements {
		names[i] = string(e)
	}
	return s.client.CreateBackup(ctx, env.SiteID, env.EnvironmentID, names)
}

// JobStatus maps a platform workflow onto a backup job status.
func (s *platformService) JobStatus(ctx context.Context, jobID string) (clone.JobStatus, error) {
	wf, err := s.client.GetWorkflow(ctx, jobID)
	if err != nil {
		return clone.JobStatus{}, transient(err)
	}
	switch wf.Status {
	case platform.WorkflowRunning, "":
		return clone.JobStatus{State: clone.JobPending}, nil
	case platform.WorkflowSucceeded:
		return clone.JobStatus{State: clone.JobComplete}, nil
	case platform.WorkflowFailed:
		return clone.JobStatus{State: clone.JobFailed, Message: wf.Message}, nil
	}
	return clone.JobStatus{}, fmt.Errorf("workflow %s has unknown status %q", jobID, wf.Status)
}

// FinishedBackups lists the finished backups of an element, newest first.
func (s *platformService) FinishedBackups(ctx context.Context, env clone.EnvironmentHandle, element clone.Element) ([]clone.BackupEntry, error) {
	backups, err := s.client.ListBackups(ctx, env.SiteID, env.EnvironmentID, platform.ListBackupsOptions{
		Element: string(element),
		Status:  platform.BackupStatusFinished,
	})
	if err != nil {
		return nil, err
	}

	var entries []clone.BackupEntry
	for _, b := range backups {
		if !b.Finished || clone.Element(b.Element) != element {
			continue
		}
		entries = append(entries, clone.BackupEntry{
			ID:        b.ID,
			Element:   element,
			CreatedAt: b.CreatedAt.Time,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// BackupURL returns a signed download url for a backup.
func (s *platformService) BackupURL(ctx context.Context, env clone.EnvironmentHandle, backupID string) (string, error) {
	return s.client.GetBackupURL(ctx, env.SiteID, env.EnvironmentID, backupID)
}

// downloader saves located backups to local files named after the source
// environment, the element and the backup time.
type downloader struct {
	client *platform.Client
	source string // `<site>.<environment>` of the source
	log    *log.Logger
}

// Download writes record to dir. A partial file is removed on error.
func (d *downloader) Download(ctx context.Context, record clone.BackupRecord, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("could not create download directory %q: %w", dir, err)
	}

	name := fmt.Sprintf(
		"%s-%s-%s%s",
		strings.ReplaceAll(d.source, ".", "-"),
		record.Element,
		record.CreatedAt.UTC().Format("20060102T150405Z"),
		archiveExtension(record.Element),
	)
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("could not create %q: %w", path, err)
	}
	n, err := d.client.Download(ctx, record.DownloadURL, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	d.log.Debug("downloaded backup", "element", record.Element, "path", path, "size", humanize.Bytes(uint64(n)))
	return path, nil
}

// archiveExtension is the file extension of an element's backup archive.
func archiveExtension(element clone.Element) string {
	if element == clone.Database {
		return ".sql.gz"
	}
	return ".tar.gz"
}
