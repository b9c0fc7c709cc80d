package scanworker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sablesec/strikepoint/internal/scans"
)

// NucleiRunner executes a template-based vulnerability scan by spawning the
// nuclei binary. Findings are written to a JSONL report file that is read
// back and summarized after the process exits; a report that cannot be
// parsed downgrades the summary to nil but does not fail the job.
type NucleiRunner struct {
	// Binary overrides the nuclei path; empty means "nuclei" on $PATH.
	Binary string
	// ReportDir is where per-job report files are created; empty means the
	// system temp dir.
	ReportDir string
}

func (r *NucleiRunner) Run(ctx context.Context, job *scans.Job) *scans.Result {
	result := &scans.Result{
		JobID:     job.JobID,
		JourneyID: job.JourneyID,
		Tool:      job.Tool,
		StartedAt: time.Now().UTC(),
	}

	reportDir := r.ReportDir
	if reportDir == "" {
		reportDir = os.TempDir()
	}
	reportPath := filepath.Join(reportDir, fmt.Sprintf("nuclei-%s.jsonl", job.JobID))
	defer os.Remove(reportPath)

	binary := r.Binary
	if binary == "" {
		binary = "nuclei"
	}

	args := []string{"-jsonl", "-silent", "-output", reportPath}
	for _, target := range job.Targets {
		args = append(args, "-target", target)
	}
	if templates := job.Options["templates"]; templates != "" {
		for _, tpl := range strings.Split(templates, ",") {
			args = append(args, "-templates", tpl)
		}
	}

	exec := RunCommand(ctx, Command{
		Path:     binary,
		Args:     args,
		Deadline: job.Deadline,
	})
	result.ExitCode = exec.ExitCode
	result.Stdout = exec.Stdout
	result.Stderr = exec.Stderr
	result.FinishedAt = exec.FinishedAt

	switch {
	case exec.TimedOut:
		result.State = scans.JobTimedOut
		result.Error = "template scan exceeded deadline"
		return result
	case exec.Err != nil:
		result.State = scans.JobFailed
		result.Error = fmt.Sprintf("nuclei: %v", exec.Err)
		return result
	}

	result.State = scans.JobCompleted
	summary, err := parseNucleiReport(reportPath)
	if err != nil {
		// Raw output is still returned; the job itself succeeded.
		result.ParseError = err.Error()
		return result
	}
	result.Summary = summary
	return result
}

// nucleiFinding is the slice of a nuclei JSONL record this worker cares
// about.
type nucleiFinding struct {
	Info struct {
		Severity string `json:"severity"`
	} `json:"info"`
}

func parseNucleiReport(path string) (*scans.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No findings: nuclei only creates the file when it has output.
			return &scans.Summary{}, nil
		}
		return nil, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	summary := &scans.Summary{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var finding nucleiFinding
		if err := json.Unmarshal([]byte(text), &finding); err != nil {
			return nil, fmt.Errorf("report line %d: %w", line, err)
		}
		switch strings.ToLower(finding.Info.Severity) {
		case "critical":
			summary.Findings.Critical++
		case "high":
			summary.Findings.High++
		case "medium":
			summary.Findings.Medium++
		case "low":
			summary.Findings.Low++
		default:
			summary.Findings.Info++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	return summary, nil
}
