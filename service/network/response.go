package network

import (
	"github.com/megastructure/coordinator/model/mpo"
	"github.com/megastructure/coordinator/model/pipeline"
)

// Response is the reply envelope shared by every request kind. Each kind
// fills only the fields it returns.
type Response struct {
	MachineID  mpo.MachineID       `json:"machineId,omitempty"`
	MP         mpo.MP              `json:"mp,omitempty"`
	MPO        mpo.MPO             `json:"mpo,omitempty"`
	MPOs       []mpo.MPO           `json:"mpos,omitempty"`
	Address    mpo.NetworkAddress  `json:"address,omitempty"`
	TimeStamp  mpo.TimeStamp       `json:"timeStamp,omitempty"`
	Workers    []string            `json:"workers,omitempty"`
	TaskResult pipeline.TaskResult `json:"taskResult,omitempty"`
	Result     *pipeline.Result    `json:"result,omitempty"`
	Found      bool                `json:"found,omitempty"`
	Hash       string              `json:"hash,omitempty"`
}
