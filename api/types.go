package api

import (
	"context"
	"time"

	"portscan/scanner"
)

// Task lifecycle states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// PortScanner runs one synchronous range scan. *scanner.Scanner satisfies it.
type PortScanner interface {
	Scan(ctx context.Context, host string, start, end int) ([]scanner.PortResult, error)
}

// ScanTask represents a queued scanning job managed by the API service.
type ScanTask struct {
	// ID is the immutable identifier of the scan task (UUID v4).
	ID string `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678" description:"Identifier assigned when the task is accepted. Reuse it when polling GET /scans/{id}."`
	// Status reflects the asynchronous lifecycle state of the task.
	Status string `json:"status" enums:"pending,running,completed,failed" example:"pending" description:"pending while queued, running while probing, completed once results are attached, failed when the scan could not run."`
	// Address is the host name or IP literal submitted for the scan.
	Address string `json:"address" example:"192.0.2.10"`
	// PortStart and PortEnd bound the inclusive port range.
	PortStart int `json:"port_start" minimum:"1" maximum:"65535" example:"20"`
	PortEnd   int `json:"port_end" minimum:"1" maximum:"65535" example:"25"`
	// Results holds one entry per port, in ascending order, once the task completes.
	Results []scanner.PortResult `json:"results,omitempty"`
	// CreatedAt records when the task was created.
	CreatedAt time.Time `json:"created_at" format:"date-time" example:"2024-01-02T15:04:05Z"`
	// CompletedAt is set once the task transitions to a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time" example:"2024-01-02T15:06:30Z"`
	// Error contains context when a task fails.
	Error string `json:"error,omitempty" example:"invalid target: resolve \"nope.invalid\": no such host"`
}

// CreateScanRequest is the payload for creating new scan tasks. A zero
// PortEnd scans PortStart alone.
type CreateScanRequest struct {
	Address   string `json:"address" binding:"required" example:"scanme.example"`
	PortStart int    `json:"port_start" binding:"required,min=1,max=65535" example:"20"`
	PortEnd   int    `json:"port_end" binding:"omitempty,min=1,max=65535" example:"25"`
}

// ScanAcceptedResponse captures the asynchronous acknowledgement returned after job submission.
type ScanAcceptedResponse struct {
	ID     string `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678"`
	Status string `json:"status" enums:"pending" example:"pending"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// ErrorResponse provides a consistent structure for API error payloads.
type ErrorResponse struct {
	Error string `json:"error" example:"task not found"`
}
