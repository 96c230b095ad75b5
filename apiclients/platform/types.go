package platform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Workflow statuses reported by the /workflows endpoint.
const (
	WorkflowRunning   = "running"
	WorkflowSucceeded = "succeeded"
	WorkflowFailed    = "failed"
)

// BackupStatusFinished filters backup listings to finished backups.
const BackupStatusFinished = "finished"

// Flag is a boolean that the platform may encode as a JSON bool, a number or a
// string in any casing. Any non-zero number is true, as are the strings
// accepted by strconv.ParseBool, "y", "yes" and "on". Anything else is false.
type Flag bool

// UnmarshalJSON implements the json.Unmarshaler interface for a Flag.
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case string(data) == "null":
		*f = false
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return f.UnmarshalText([]byte(s))
	case string(data) == "true" || string(data) == "false":
		*f = string(data) == "true"
		return nil
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid flag %s: %w", data, err)
	}
	*f = n != 0
	return nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface for a Flag.
func (f *Flag) UnmarshalText(text []byte) error {
	str := strings.ToLower(strings.TrimSpace(string(text)))
	if b, err := strconv.ParseBool(str); err == nil {
		*f = Flag(b)
		return nil
	}
	if n, err := strconv.ParseFloat(str, 64); err == nil {
		*f = n != 0
		return nil
	}
	*f = str == "y" || str == "yes" || str == "on"
	return nil
}

// Version is a runtime version which the platform reports either as a string
// ("7.4") or a number (7.4).
type Version string

// UnmarshalJSON implements the json.Unmarshaler interface for a Version.
func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case string(data) == "null":
		*v = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Version(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid version %s: %w", string(data), err)
		}
		*v = Version(n.String())
	}
	return nil
}

// Timestamp is a platform time, sent either as unix seconds or an RFC3339
// string.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements the json.Unmarshaler interface for a Timestamp.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		ts.Time = time.Unix(int64(secs), 0).UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	ts.Time = t.UTC()
	return nil
}

// Site is a hosted site.
type Site struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Label     string `json:"label"`
	Framework string `json:"framework"`
	Frozen    Flag   `json:"frozen"`
}

// Environment is a deployment environment of a site.
type Environment struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	PHPVersion Version `json:"php_version"`
	Frozen     Flag    `json:"frozen"`
}

// createBackupRequest is the body of a backup creation request. An empty
// Elements list backs up the whole environment.
type createBackupRequest struct {
	Elements []string `json:"elements,omitempty"`
}

// createBackupResponse is the response to a backup creation request.
type createBackupResponse struct {
	WorkflowID string `json:"workflow_id"`
}

// Workflow is an asynchronous platform job.
type Workflow struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Backup is one element's archive within an environment backup.
type Backup struct {
	ID        string    `json:"id"`
	Element   string    `json:"element"`
	CreatedAt Timestamp `json:"created_at"`
	Finished  Flag      `json:"finished"`
}

// ListBackupsOptions filters a backup listing.
type ListBackupsOptions struct {
	Element string `url:"element,omitempty"`
	Status  string `url:"status,omitempty"`
}

// backupURLResponse carries a signed download url for a backup.
type backupURLResponse struct {
	URL string `json:"url"`
}
