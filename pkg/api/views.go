package api

import (
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// CreateWorkloadRequest is the body of POST /v1/workloads
type CreateWorkloadRequest struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Tenant     string            `json:"tenant"`
	Image      string            `json:"image"`
	Port       int               `json:"port,omitempty"`
	Path       string            `json:"path,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Command    []string          `json:"command,omitempty"`
	Ulimits    []UlimitView      `json:"ulimits,omitempty"`
	Network    string            `json:"network,omitempty"`
	Timeout    int               `json:"timeout,omitempty"`
	MaxRetries *int              `json:"max_retries,omitempty"`
}

// CreateActionRequest is the body of POST /v1/workloads/{id}/actions
type CreateActionRequest struct {
	Action string `json:"action"`
	// Delay postpones execution, as a Go duration string ("30s")
	Delay string `json:"delay,omitempty"`
}

// UlimitView is a resource limit
type UlimitView struct {
	Name string `json:"name"`
	Soft int64  `json:"soft"`
	Hard int64  `json:"hard"`
}

// WorkloadView is the public shape of a workload
type WorkloadView struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Tenant               string            `json:"tenant"`
	Image                string            `json:"image"`
	Port                 int               `json:"port,omitempty"`
	Path                 string            `json:"path,omitempty"`
	Env                  map[string]string `json:"env,omitempty"`
	Command              []string          `json:"command,omitempty"`
	Ulimits              []UlimitView      `json:"ulimits,omitempty"`
	Network              string            `json:"network,omitempty"`
	State                string            `json:"state"`
	ContainerID          string            `json:"container_id,omitempty"`
	ImageID              string            `json:"image_id,omitempty"`
	NetworkIP            string            `json:"network_ip,omitempty"`
	Timeout              int               `json:"timeout"`
	MaxRetries           int               `json:"max_retries"`
	LastActionID         string            `json:"last_action_id,omitempty"`
	LastAction           string            `json:"last_action,omitempty"`
	Retries              int               `json:"retries"`
	DateLastStatusUpdate *time.Time        `json:"date_last_status_update,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// ActionView is the public shape of an action
type ActionView struct {
	ID         string    `json:"id"`
	WorkloadID string    `json:"workload_id"`
	Action     string    `json:"action"`
	Retries    int       `json:"retries"`
	Exhausted  bool      `json:"exhausted,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// LogEntryView is one line of a workload's history
type LogEntryView struct {
	ID               string     `json:"id"`
	ContainerID      string     `json:"container_id,omitempty"`
	Source           string     `json:"source"`
	Level            string     `json:"level"`
	Message          string     `json:"message"`
	RuntimeTimestamp *time.Time `json:"runtime_timestamp,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
}

func workloadView(w *types.Workload, last *types.Action) WorkloadView {
	v := WorkloadView{
		ID:                   w.ID,
		Name:                 w.Name,
		Tenant:               w.Tenant,
		Image:                w.Image,
		Port:                 w.Port,
		Path:                 w.Path,
		Env:                  w.Env,
		Command:              w.Command,
		Network:              w.Network,
		State:                string(w.State),
		ContainerID:          w.ContainerID,
		ImageID:              w.ImageID,
		NetworkIP:            w.NetworkIP,
		Timeout:              w.Timeout,
		MaxRetries:           w.MaxRetries,
		LastActionID:         w.LastActionID,
		DateLastStatusUpdate: w.DateLastStatusUpdate,
		CreatedAt:            w.CreatedAt,
		UpdatedAt:            w.UpdatedAt,
	}
	for _, u := range w.Ulimits {
		v.Ulimits = append(v.Ulimits, UlimitView{Name: u.Name, Soft: u.Soft, Hard: u.Hard})
	}
	if last != nil {
		v.LastAction = string(last.Kind)
		v.Retries = last.Retries
	}
	return v
}

func actionView(a *types.Action) ActionView {
	return ActionView{
		ID:         a.ID,
		WorkloadID: a.WorkloadID,
		Action:     string(a.Kind),
		Retries:    a.Retries,
		Exhausted:  a.Exhausted,
		CreatedAt:  a.CreatedAt,
	}
}

func logEntryView(e *types.LogEntry) LogEntryView {
	return LogEntryView{
		ID:               e.ID,
		ContainerID:      e.ContainerID,
		Source:           string(e.Source),
		Level:            string(e.Level),
		Message:          e.Message,
		RuntimeTimestamp: e.RuntimeTimestamp,
		CreatedAt:        e.CreatedAt,
	}
}
