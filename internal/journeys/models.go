package journeys

import (
	"time"

	"github.com/sablesec/strikepoint/internal/scans"
)

// Type is the kind of security-testing run a journey performs.
type Type string

const (
	TypeAttackSurface Type = "attack_surface"
	TypeADHygiene     Type = "ad_hygiene"
	TypeEDRTesting    Type = "edr_testing"
)

// Status is the journey lifecycle state. Terminal states are immutable; a
// re-run requires a new journey.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Journey is a tenant-initiated scan run composed of one or more scan jobs.
type Journey struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Type        Type       `json:"type"`
	Status      Status     `json:"status"`
	Config      Config     `json:"config"`
	CollectorID string     `json:"collector_id,omitempty"`
	Results     *Results   `json:"results,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AttackSurfaceConfig drives port/service discovery and optional
// template-based vulnerability scanning against a set of targets.
type AttackSurfaceConfig struct {
	Targets         []string    `json:"targets"`
	ScanType        scans.Route `json:"scan_type"`
	PortRange       string      `json:"port_range,omitempty"`
	NucleiTemplates []string    `json:"nuclei_templates,omitempty"`
}

// ADHygieneConfig drives Active Directory hygiene checks, always executed on
// the bound collector inside the tenant network.
type ADHygieneConfig struct {
	Domain           string   `json:"domain"`
	DomainController string   `json:"domain_controller,omitempty"`
	Checks           []string `json:"checks,omitempty"`
}

// EDRTestingConfig drives endpoint detection scenarios on the bound collector.
type EDRTestingConfig struct {
	Scenarios []string `json:"scenarios"`
}

// FailedJob records a sub-scan that did not succeed. Failed jobs are always
// carried in the journey results, never dropped.
type FailedJob struct {
	JobID  string         `json:"job_id"`
	Tool   scans.Tool     `json:"tool"`
	State  scans.JobState `json:"state"`
	Reason string         `json:"reason,omitempty"`
}

// ToolResult is the per-tool slice of a journey's merged results.
type ToolResult struct {
	Tool       scans.Tool     `json:"tool"`
	Succeeded  bool           `json:"succeeded"`
	Summary    *scans.Summary `json:"summary,omitempty"`
	ParseError string         `json:"parse_error,omitempty"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Results is the merged outcome of all jobs under one journey. Findings are
// the additive union of the per-tool summaries.
type Results struct {
	Findings   scans.SeverityCount       `json:"findings"`
	Tools      map[scans.Tool]ToolResult `json:"tools"`
	FailedJobs []FailedJob               `json:"failed_jobs,omitempty"`
}
