package network

import (
	"encoding/json"

	"github.com/megastructure/coordinator/model/mpo"
	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/model/sim"
	"github.com/pkg/errors"
)

// Kind names a request type on the wire
type Kind string

// Request kinds
const (
	KindEnroleDaemon             Kind = "EnroleDaemon"
	KindEnroleLeafWithRoot       Kind = "EnroleLeafWithRoot"
	KindEnroleLeafDisconnect     Kind = "EnroleLeafDisconnect"
	KindEnroleOwner              Kind = "EnroleOwner"
	KindReleaseOwner             Kind = "ReleaseOwner"
	KindGetNetworkAddressMPO     Kind = "GetNetworkAddressMPO"
	KindGetRootNetworkAddress    Kind = "GetRootNetworkAddress"
	KindAllocateNetworkAddress   Kind = "AllocateNetworkAddress"
	KindDeAllocateNetworkAddress Kind = "DeAllocateNetworkAddress"
	KindPipelineRun              Kind = "PipelineRun"
	KindJobStart                 Kind = "JobStart"
	KindJobReadyForWork          Kind = "JobReadyForWork"
	KindJobStartTask             Kind = "JobStartTask"
	KindJobProgress              Kind = "JobProgress"
	KindSimLockRead              Kind = "SimLockRead"
	KindSimLockWrite             Kind = "SimLockWrite"
	KindSimLockRelease           Kind = "SimLockRelease"
	KindSimLockReleaseAll        Kind = "SimLockReleaseAll"
	KindStashClear               Kind = "StashClear"
	KindStashStash               Kind = "StashStash"
	KindStashRestore             Kind = "StashRestore"
	KindBuildGetHashCode         Kind = "BuildGetHashCode"
	KindBuildSetHashCode         Kind = "BuildSetHashCode"
)

// Request is the closed set of messages peers exchange. Handlers match on
// the concrete type once, at the transport boundary.
type Request interface {
	Kind() Kind
	isRequest()
}

type (
	// EnroleDaemon asks the root for a machine id
	EnroleDaemon struct{}

	// EnroleLeafWithRoot asks the root for a process slot on a daemon's machine
	EnroleLeafWithRoot struct {
		Daemon mpo.MachineID `json:"daemon"`
	}

	// EnroleLeafDisconnect reports a process that went away
	EnroleLeafDisconnect struct {
		MP mpo.MP `json:"mp"`
	}

	// EnroleOwner asks for an owner slot in a process
	EnroleOwner struct {
		MP mpo.MP `json:"mp"`
	}

	// ReleaseOwner frees an owner slot
	ReleaseOwner struct {
		MPO mpo.MPO `json:"mpo"`
	}

	// GetNetworkAddressMPO resolves the owner of an address
	GetNetworkAddressMPO struct {
		Address mpo.NetworkAddress `json:"address"`
	}

	// GetRootNetworkAddress resolves the root object of an owner
	GetRootNetworkAddress struct {
		MPO mpo.MPO `json:"mpo"`
	}

	// AllocateNetworkAddress allocates an address for an owner's object
	AllocateNetworkAddress struct {
		MPO    mpo.MPO    `json:"mpo"`
		TypeID mpo.TypeID `json:"typeId"`
	}

	// DeAllocateNetworkAddress frees an owner's address
	DeAllocateNetworkAddress struct {
		MPO     mpo.MPO            `json:"mpo"`
		Address mpo.NetworkAddress `json:"address"`
	}

	// PipelineRun runs a pipeline on the root
	PipelineRun struct {
		ToolChain     pipeline.ToolChain     `json:"toolChain"`
		Configuration pipeline.Configuration `json:"configuration"`
	}

	// JobStart asks a daemon for workers for a run
	JobStart struct {
		RunID         string                 `json:"runId"`
		ToolChain     pipeline.ToolChain     `json:"toolChain"`
		Configuration pipeline.Configuration `json:"configuration"`
	}

	// JobReadyForWork opens the pull loop of one worker; it returns when the
	// worker received the terminal task
	JobReadyForWork struct {
		RunID    string `json:"runId"`
		WorkerID string `json:"workerId"`
	}

	// JobStartTask executes one task on a worker
	JobStartTask struct {
		RunID    string                  `json:"runId"`
		WorkerID string                  `json:"workerId"`
		Task     pipeline.TaskDescriptor `json:"task"`
	}

	// JobProgress carries an informational worker message
	JobProgress struct {
		RunID   string `json:"runId"`
		Message string `json:"message"`
	}

	// SimLockRead asks the owner of Target for a read lock
	SimLockRead struct {
		Requester mpo.MPO `json:"requester"`
		Target    mpo.MPO `json:"target"`
	}

	// SimLockWrite asks the owner of Target for a write lock
	SimLockWrite struct {
		Requester mpo.MPO `json:"requester"`
		Target    mpo.MPO `json:"target"`
	}

	// SimLockRelease releases a lock and hands over its effects
	SimLockRelease struct {
		Requester   mpo.MPO         `json:"requester"`
		Target      mpo.MPO         `json:"target"`
		Transaction sim.Transaction `json:"transaction"`
	}

	// SimLockReleaseAll drops every lock the owners hold, without applying
	// effects; sent to every daemon when owners go away
	SimLockReleaseAll struct {
		Owners []mpo.MPO `json:"owners"`
	}

	// StashClear empties the stash
	StashClear struct{}

	// StashStash stores a built file under its determinant
	StashStash struct {
		FilePath    string `json:"filePath"`
		Determinant string `json:"determinant"`
	}

	// StashRestore restores a built file stored under its determinant
	StashRestore struct {
		FilePath    string `json:"filePath"`
		Determinant string `json:"determinant"`
	}

	// BuildGetHashCode returns the hash recorded for a built file
	BuildGetHashCode struct {
		FilePath string `json:"filePath"`
	}

	// BuildSetHashCode records the hash of a built file
	BuildSetHashCode struct {
		FilePath string `json:"filePath"`
		Hash     string `json:"hash"`
	}
)

func (EnroleDaemon) Kind() Kind             { return KindEnroleDaemon }
func (EnroleLeafWithRoot) Kind() Kind       { return KindEnroleLeafWithRoot }
func (EnroleLeafDisconnect) Kind() Kind     { return KindEnroleLeafDisconnect }
func (EnroleOwner) Kind() Kind              { return KindEnroleOwner }
func (ReleaseOwner) Kind() Kind             { return KindReleaseOwner }
func (GetNetworkAddressMPO) Kind() Kind     { return KindGetNetworkAddressMPO }
func (GetRootNetworkAddress) Kind() Kind    { return KindGetRootNetworkAddress }
func (AllocateNetworkAddress) Kind() Kind   { return KindAllocateNetworkAddress }
func (DeAllocateNetworkAddress) Kind() Kind { return KindDeAllocateNetworkAddress }
func (PipelineRun) Kind() Kind              { return KindPipelineRun }
func (JobStart) Kind() Kind                 { return KindJobStart }
func (JobReadyForWork) Kind() Kind          { return KindJobReadyForWork }
func (JobStartTask) Kind() Kind             { return KindJobStartTask }
func (JobProgress) Kind() Kind              { return KindJobProgress }
func (SimLockRead) Kind() Kind              { return KindSimLockRead }
func (SimLockWrite) Kind() Kind             { return KindSimLockWrite }
func (SimLockRelease) Kind() Kind           { return KindSimLockRelease }
func (SimLockReleaseAll) Kind() Kind        { return KindSimLockReleaseAll }
func (StashClear) Kind() Kind               { return KindStashClear }
func (StashStash) Kind() Kind               { return KindStashStash }
func (StashRestore) Kind() Kind             { return KindStashRestore }
func (BuildGetHashCode) Kind() Kind         { return KindBuildGetHashCode }
func (BuildSetHashCode) Kind() Kind         { return KindBuildSetHashCode }

func (EnroleDaemon) isRequest()             {}
func (EnroleLeafWithRoot) isRequest()       {}
func (EnroleLeafDisconnect) isRequest()     {}
func (EnroleOwner) isRequest()              {}
func (ReleaseOwner) isRequest()             {}
func (GetNetworkAddressMPO) isRequest()     {}
func (GetRootNetworkAddress) isRequest()    {}
func (AllocateNetworkAddress) isRequest()   {}
func (DeAllocateNetworkAddress) isRequest() {}
func (PipelineRun) isRequest()              {}
func (JobStart) isRequest()                 {}
func (JobReadyForWork) isRequest()          {}
func (JobStartTask) isRequest()             {}
func (JobProgress) isRequest()              {}
func (SimLockRead) isRequest()              {}
func (SimLockWrite) isRequest()             {}
func (SimLockRelease) isRequest()           {}
func (SimLockReleaseAll) isRequest()        {}
func (StashClear) isRequest()               {}
func (StashStash) isRequest()               {}
func (StashRestore) isRequest()             {}
func (BuildGetHashCode) isRequest()         {}
func (BuildSetHashCode) isRequest()         {}

var factories = map[Kind]func() Request{
	KindEnroleDaemon:             func() Request { return &EnroleDaemon{} },
	KindEnroleLeafWithRoot:       func() Request { return &EnroleLeafWithRoot{} },
	KindEnroleLeafDisconnect:     func() Request { return &EnroleLeafDisconnect{} },
	KindEnroleOwner:              func() Request { return &EnroleOwner{} },
	KindReleaseOwner:             func() Request { return &ReleaseOwner{} },
	KindGetNetworkAddressMPO:     func() Request { return &GetNetworkAddressMPO{} },
	KindGetRootNetworkAddress:    func() Request { return &GetRootNetworkAddress{} },
	KindAllocateNetworkAddress:   func() Request { return &AllocateNetworkAddress{} },
	KindDeAllocateNetworkAddress: func() Request { return &DeAllocateNetworkAddress{} },
	KindPipelineRun:              func() Request { return &PipelineRun{} },
	KindJobStart:                 func() Request { return &JobStart{} },
	KindJobReadyForWork:          func() Request { return &JobReadyForWork{} },
	KindJobStartTask:             func() Request { return &JobStartTask{} },
	KindJobProgress:              func() Request { return &JobProgress{} },
	KindSimLockRead:              func() Request { return &SimLockRead{} },
	KindSimLockWrite:             func() Request { return &SimLockWrite{} },
	KindSimLockRelease:           func() Request { return &SimLockRelease{} },
	KindSimLockReleaseAll:        func() Request { return &SimLockReleaseAll{} },
	KindStashClear:               func() Request { return &StashClear{} },
	KindStashStash:               func() Request { return &StashStash{} },
	KindStashRestore:             func() Request { return &StashRestore{} },
	KindBuildGetHashCode:         func() Request { return &BuildGetHashCode{} },
	KindBuildSetHashCode:         func() Request { return &BuildSetHashCode{} },
}

// DecodeRequest decodes the JSON payload of a request of the given kind.
// The returned value is the request struct itself, not a pointer.
func DecodeRequest(kind Kind, payload []byte) (Request, error) {
	factory, ok := factories[kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "%v", kind)
	}
	ptr := factory()
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, ptr); err != nil {
			return nil, errors.Wrapf(err, "failed to decode %v", kind)
		}
	}
	return deref(ptr), nil
}

func deref(request Request) Request {
	switch actual := request.(type) {
	case *EnroleDaemon:
		return *actual
	case *EnroleLeafWithRoot:
		return *actual
	case *EnroleLeafDisconnect:
		return *actual
	case *EnroleOwner:
		return *actual
	case *ReleaseOwner:
		return *actual
	case *GetNetworkAddressMPO:
		return *actual
	case *GetRootNetworkAddress:
		return *actual
	case *AllocateNetworkAddress:
		return *actual
	case *DeAllocateNetworkAddress:
		return *actual
	case *PipelineRun:
		return *actual
	case *JobStart:
		return *actual
	case *JobReadyForWork:
		return *actual
	case *JobStartTask:
		return *actual
	case *JobProgress:
		return *actual
	case *SimLockRead:
		return *actual
	case *SimLockWrite:
		return *actual
	case *SimLockRelease:
		return *actual
	case *SimLockReleaseAll:
		return *actual
	case *StashClear:
		return *actual
	case *StashStash:
		return *actual
	case *StashRestore:
		return *actual
	case *BuildGetHashCode:
		return *actual
	case *BuildSetHashCode:
		return *actual
	}
	return request
}
