package status

import (
	"time"

	"github.com/megastructure/coordinator"
	"github.com/megastructure/coordinator/model/mpo"
	"github.com/megastructure/coordinator/model/pipeline"
)

type (
	// ErrorResponse is the body of every failed request
	ErrorResponse struct {
		Error string `json:"error"`
	}

	// MachinesResponse lists the enrolled machines
	MachinesResponse struct {
		Machines []mpo.MachineID `json:"machines"`
	}

	// MachineResponse lists the processes of a machine
	MachineResponse struct {
		Machine   mpo.MachineID `json:"machine"`
		Processes []string      `json:"processes"`
	}

	// ProcessResponse lists the owners of a process
	ProcessResponse struct {
		MP     string   `json:"mp"`
		Owners []string `json:"owners"`
	}

	// AddressesResponse summarises the network address space; Owned is set
	// when the request names an owner
	AddressesResponse struct {
		Allocated int                  `json:"allocated"`
		Capacity  mpo.NetworkAddress   `json:"capacity"`
		Owner     string               `json:"owner,omitempty"`
		Owned     []mpo.NetworkAddress `json:"owned,omitempty"`
	}

	// AddressResponse resolves one address
	AddressResponse struct {
		Address mpo.NetworkAddress `json:"address"`
		Owner   string             `json:"owner"`
	}

	// RunRequest starts a pipeline run
	RunRequest struct {
		PipelineID string             `json:"pipelineId" binding:"required"`
		ToolChain  pipeline.ToolChain `json:"toolChain"`
		Definition string             `json:"definition,omitempty"`
	}

	// RunStatus is the progress of an active run
	RunStatus struct {
		RunID      string    `json:"runId"`
		PipelineID string    `json:"pipelineId"`
		StartedAt  time.Time `json:"startedAt"`
		Total      int       `json:"total"`
		Dispatched int       `json:"dispatched"`
		Completed  int       `json:"completed"`
		Failed     int       `json:"failed"`
		InFlight   int       `json:"inFlight"`
		Messages   []string  `json:"messages,omitempty"`
	}

	// RunsResponse lists active and finished runs
	RunsResponse struct {
		Active  []RunStatus           `json:"active"`
		History []*coordinator.Record `json:"history"`
	}
)
