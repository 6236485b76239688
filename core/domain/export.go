package domain

import (
	"fmt"
	"strings"
	"time"
)

type ExportMode string

const (
	ModeSingle   ExportMode = "single"
	ModeCombined ExportMode = "combined"
)

type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether a job status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MonthKey identifies one calendar month.
type MonthKey struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

func (m MonthKey) String() string {
	return fmt.Sprintf("%d/%d", m.Month, m.Year)
}

// Name returns the lowercase English month name ("december").
func (m MonthKey) Name() string {
	return strings.ToLower(time.Month(m.Month).String())
}

// Next returns the following calendar month with year rollover.
func (m MonthKey) Next() MonthKey {
	if m.Month == 12 {
		return MonthKey{Month: 1, Year: m.Year + 1}
	}
	return MonthKey{Month: m.Month + 1, Year: m.Year}
}

// Before reports whether m precedes other chronologically.
func (m MonthKey) Before(other MonthKey) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// After reports whether m follows other chronologically.
func (m MonthKey) After(other MonthKey) bool {
	return other.Before(m)
}

// Start returns midnight UTC on the first of the month.
func (m MonthKey) Start() time.Time {
	return time.Date(m.Year, time.Month(m.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns midnight UTC on the first of the next month.
func (m MonthKey) End() time.Time {
	n := m.Next()
	return time.Date(n.Year, time.Month(n.Month), 1, 0, 0, 0, 0, time.UTC)
}

// ExportRequest is immutable once submitted.
type ExportRequest struct {
	StartMonth int        `json:"start_month"`
	StartYear  int        `json:"start_year"`
	Mode       ExportMode `json:"mode"`
}

// Months expands the request into the ordered month list: one entry in
// single mode, the full ascending run through end (inclusive) in
// combined mode.
func (r ExportRequest) Months(end MonthKey) []MonthKey {
	start := MonthKey{Month: r.StartMonth, Year: r.StartYear}
	if r.Mode == ModeSingle {
		return []MonthKey{start}
	}
	var months []MonthKey
	for m := start; !m.After(end); m = m.Next() {
		months = append(months, m)
	}
	return months
}

// EmailRecord is derived immutably from one raw remote message.
type EmailRecord struct {
	SentDate       string `json:"sent_date"`
	RecipientName  string `json:"recipient_name"`
	RecipientEmail string `json:"recipient_email"`
	ThreadID       string `json:"thread_id"`
	MessageID      string `json:"message_id"`

	// SentAtMillis is the server-assigned epoch-millisecond timestamp the
	// formatted SentDate was derived from. Ordering uses this instant, not
	// the formatted string.
	SentAtMillis int64 `json:"-"`
}

// Artifact is immutable once appended to a job's artifact list.
type Artifact struct {
	Filename    string   `json:"filename"`
	CSV         []byte   `json:"-"`
	RecordCount int      `json:"record_count"`
	FromMonth   MonthKey `json:"from_month"`
	ToMonth     MonthKey `json:"to_month"`
}

// ExportJob is the unit of work and its mutable state. It is mutated only
// by its execution goroutine through the registry; readers get snapshots.
type ExportJob struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"-"`
	AccountEmail string        `json:"account_email"`
	Request      ExportRequest `json:"request"`
	Months       []MonthKey    `json:"months"`

	Status       JobStatus  `json:"status"`
	Progress     float64    `json:"progress"`
	Message      string     `json:"message"`
	CurrentMonth int        `json:"current_month"` // index into Months
	Artifacts    []Artifact `json:"artifacts"`
	TotalRecords int        `json:"total_records"`

	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// ArtifactFilename builds the download filename for the covered range:
// localpart_december_2024.csv, or with a _to_july_2025 suffix when the
// range spans more than one month.
func ArtifactFilename(accountEmail string, from, to MonthKey) string {
	local := accountEmail
	if i := strings.IndexByte(accountEmail, '@'); i >= 0 {
		local = accountEmail[:i]
	}
	name := fmt.Sprintf("%s_%s_%d", local, from.Name(), from.Year)
	if from != to {
		name += fmt.Sprintf("_to_%s_%d", to.Name(), to.Year)
	}
	return name + ".csv"
}
