package scans

import (
	"time"
)

// Tool identifies the scanning tool a job runs.
type Tool string

const (
	// ToolDiscovery is port/service discovery (nmap).
	ToolDiscovery Tool = "discovery"
	// ToolNuclei is template-based vulnerability scanning.
	ToolNuclei Tool = "nuclei"
	// ToolADAudit runs Active Directory hygiene checks on a collector.
	ToolADAudit Tool = "ad-audit"
	// ToolEDRProbe runs EDR detection scenarios on a collector.
	ToolEDRProbe Tool = "edr-probe"
)

// Route says where a job executes. Routing is recorded on the job and a job
// never falls back from one route to the other.
type Route string

const (
	RouteInternal Route = "internal" // bound collector executes locally
	RouteExternal Route = "external" // external scan worker service
)

// JobState is the lifecycle state of a scan job.
type JobState string

const (
	JobDispatched JobState = "dispatched"
	JobRunning    JobState = "running"
	JobCompleted  JobState = "completed"
	JobTimedOut   JobState = "timed_out"
	JobFailed     JobState = "failed"
)

// Terminal reports whether a job state is final.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobTimedOut || s == JobFailed
}

// Job is one unit of scan work derived from a journey. It is owned by the
// dispatcher until completion or timeout; the worker holds only transient
// execution state.
type Job struct {
	JobID        string            `json:"job_id"`
	JourneyID    string            `json:"journey_id"`
	TenantID     string            `json:"tenant_id"`
	Tool         Tool              `json:"tool"`
	Route        Route             `json:"route"`
	CollectorID  string            `json:"collector_id,omitempty"`
	Targets      []string          `json:"targets"`
	Options      map[string]string `json:"options,omitempty"`
	State        JobState          `json:"state"`
	DispatchedAt time.Time         `json:"dispatched_at"`
	Deadline     time.Time         `json:"deadline"`
}

// Service is one discovered network service.
type Service struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Name     string `json:"name"`
	Product  string `json:"product,omitempty"`
	Version  string `json:"version,omitempty"`
}

// SeverityCount buckets findings by severity.
type SeverityCount struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Total returns the number of findings across all severities.
func (c SeverityCount) Total() int {
	return c.Critical + c.High + c.Medium + c.Low + c.Info
}

// Add accumulates another count into this one.
func (c *SeverityCount) Add(o SeverityCount) {
	c.Critical += o.Critical
	c.High += o.High
	c.Medium += o.Medium
	c.Low += o.Low
	c.Info += o.Info
}

// Summary is the structured digest of a tool's native output.
type Summary struct {
	HostsUp   int           `json:"hosts_up,omitempty"`
	OpenPorts int           `json:"open_ports,omitempty"`
	Services  []Service     `json:"services,omitempty"`
	Findings  SeverityCount `json:"findings"`
}

// Result is what the worker reports back for one job. Stdout and stderr are
// capped; when a cap is hit the text ends with a truncation marker. A nil
// Summary with a non-empty ParseError means the tool ran but its output could
// not be parsed; the job itself is still whatever State says.
type Result struct {
	JobID      string    `json:"job_id"`
	JourneyID  string    `json:"journey_id"`
	Tool       Tool      `json:"tool"`
	State      JobState  `json:"state"`
	ExitCode   int       `json:"exit_code"`
	Stdout     string    `json:"stdout,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
	Summary    *Summary  `json:"summary,omitempty"`
	ParseError string    `json:"parse_error,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Succeeded reports whether the job behind this result completed.
func (r Result) Succeeded() bool {
	return r.State == JobCompleted
}
