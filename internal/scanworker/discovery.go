package scanworker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"github.com/sablesec/strikepoint/internal/scans"
)

// DiscoveryRunner executes a port/service discovery job. The nmap wrapper
// spawns the binary with a discrete argument vector and parses its XML
// output; no shell is involved at any point.
type DiscoveryRunner struct {
	// Binary overrides the nmap path; empty means $PATH lookup.
	Binary string
}

func (r *DiscoveryRunner) Run(ctx context.Context, job *scans.Job) *scans.Result {
	result := &scans.Result{
		JobID:     job.JobID,
		JourneyID: job.JourneyID,
		Tool:      job.Tool,
		StartedAt: time.Now().UTC(),
	}

	runCtx := ctx
	if !job.Deadline.IsZero() {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, job.Deadline)
		defer cancel()
	}

	options := []nmap.Option{
		nmap.WithTargets(job.Targets...),
		nmap.WithServiceInfo(),
	}
	if r.Binary != "" {
		options = append(options, nmap.WithBinaryPath(r.Binary))
	}
	if ports := job.Options["ports"]; ports != "" {
		options = append(options, nmap.WithPorts(ports))
	} else {
		options = append(options, nmap.WithMostCommonPorts(1000))
	}

	scanner, err := nmap.NewScanner(runCtx, options...)
	if err != nil {
		result.State = scans.JobFailed
		result.ExitCode = -1
		result.Error = fmt.Sprintf("creating nmap scanner: %v", err)
		result.FinishedAt = time.Now().UTC()
		return result
	}

	run, warnings, err := scanner.Run()
	result.FinishedAt = time.Now().UTC()
	if warnings != nil && len(*warnings) > 0 {
		result.Stderr = strings.Join(*warnings, "\n")
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			result.State = scans.JobTimedOut
			result.Error = "discovery scan exceeded deadline"
		} else {
			result.State = scans.JobFailed
			result.Error = fmt.Sprintf("nmap scan: %v", err)
		}
		result.ExitCode = -1
		return result
	}

	result.State = scans.JobCompleted
	result.Summary = summarizeDiscovery(run)
	slog.Debug("Discovery scan finished",
		"job_id", job.JobID,
		"hosts_up", result.Summary.HostsUp,
		"open_ports", result.Summary.OpenPorts)
	return result
}

func summarizeDiscovery(run *nmap.Run) *scans.Summary {
	summary := &scans.Summary{}
	for _, host := range run.Hosts {
		if host.Status.State == "up" {
			summary.HostsUp++
		}
		for _, port := range host.Ports {
			if strings.ToLower(port.State.State) != "open" {
				continue
			}
			summary.OpenPorts++
			summary.Services = append(summary.Services, scans.Service{
				Port:     int(port.ID),
				Protocol: strings.ToLower(port.Protocol),
				Name:     port.Service.Name,
				Product:  port.Service.Product,
				Version:  port.Service.Version,
			})
		}
	}
	return summary
}
