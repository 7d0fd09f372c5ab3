package status

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/megastructure/coordinator"
	"github.com/megastructure/coordinator/model/mpo"
	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/service/network/ws"
	log "github.com/sirupsen/logrus"
)

// Handlers serves the status API of a root
type Handlers struct {
	root   *coordinator.Root
	logger *log.Entry
}

// NewHandlers creates handlers for root
func NewHandlers(root *coordinator.Root, logger *log.Entry) *Handlers {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Handlers{root: root, logger: logger.WithField("component", "status")}
}

func fail(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// HandleMachines lists the enrolled machines
func (h *Handlers) HandleMachines(c *gin.Context) {
	c.JSON(http.StatusOK, MachinesResponse{Machines: h.root.Manager().Machines()})
}

// HandleMachine lists the processes of one machine
func (h *Handlers) HandleMachine(c *gin.Context) {
	machine, err := strconv.ParseUint(c.Param("machine"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	processes, err := h.root.Manager().MachineProcesses(mpo.MachineID(machine))
	if err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}
	ret := MachineResponse{Machine: mpo.MachineID(machine), Processes: make([]string, 0, len(processes))}
	for _, mp := range processes {
		ret.Processes = append(ret.Processes, mp.String())
	}
	c.JSON(http.StatusOK, ret)
}

// HandleProcess lists the owners of one process
func (h *Handlers) HandleProcess(c *gin.Context) {
	machine, err := strconv.ParseUint(c.Param("machine"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	process, err := strconv.ParseUint(c.Param("process"), 10, 8)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	mp := mpo.NewMP(mpo.MachineID(machine), mpo.ProcessID(process))
	owners, err := h.root.Manager().MPOs(mp)
	if err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}
	ret := ProcessResponse{MP: mp.String(), Owners: make([]string, 0, len(owners))}
	for _, owner := range owners {
		ret.Owners = append(ret.Owners, owner.String())
	}
	c.JSON(http.StatusOK, ret)
}

// HandleAddresses summarises the address space, optionally for ?owner=m.p.o
func (h *Handlers) HandleAddresses(c *gin.Context) {
	space := h.root.Space()
	ret := AddressesResponse{Allocated: space.Len(), Capacity: space.Capacity()}
	if text := c.Query("owner"); text != "" {
		owner, err := mpo.ParseMPO(text)
		if err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
		ret.Owner = owner.String()
		ret.Owned = space.Owned(owner)
	}
	c.JSON(http.StatusOK, ret)
}

// HandleAddress resolves the owner of one address
func (h *Handlers) HandleAddress(c *gin.Context) {
	addr, err := strconv.ParseUint(c.Param("address"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	owner, err := h.root.Space().MPO(mpo.NetworkAddress(addr))
	if err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, AddressResponse{Address: mpo.NetworkAddress(addr), Owner: owner.String()})
}

// HandleRun runs a pipeline and returns its result once finished
func (h *Handlers) HandleRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	configuration := pipeline.Configuration{PipelineID: req.PipelineID}
	if req.Definition != "" {
		configuration.Payload = []byte(req.Definition)
	}
	result := h.root.RunPipeline(c.Request.Context(), req.ToolChain, configuration)
	code := http.StatusOK
	if !result.Success {
		code = http.StatusUnprocessableEntity
	}
	c.JSON(code, result)
}

// HandleRuns lists active runs and the run history
func (h *Handlers) HandleRuns(c *gin.Context) {
	history, err := h.root.History(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ret := RunsResponse{Active: []RunStatus{}, History: history}
	runs := h.root.Scheduler().Runs()
	for i := range runs {
		run := &runs[i]
		ret.Active = append(ret.Active, RunStatus{
			RunID:      run.RunID,
			PipelineID: run.PipelineID,
			StartedAt:  run.StartedAt,
			Total:      run.TotalTasks,
			Dispatched: run.DispatchedTasks,
			Completed:  run.CompletedTasks,
			Failed:     run.FailedTasks,
			InFlight:   run.InFlightTasks,
			Messages:   run.Messages,
		})
	}
	c.JSON(http.StatusOK, ret)
}

// HandleConnect upgrades a daemon connection to a websocket served by the root
func (h *Handlers) HandleConnect(c *gin.Context) {
	conn, err := ws.Upgrade(c.Writer, c.Request, ws.WithHandler(h.root), ws.WithLogger(h.logger))
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	h.root.Connect(conn)
}
