package network

import (
	"sort"
	"sync"

	"github.com/megastructure/coordinator/metrics"
	"github.com/megastructure/coordinator/model/mpo"
	log "github.com/sirupsen/logrus"
)

// Registry tracks live connections and the machine each daemon connection
// serves.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]Connection
	machines    map[mpo.MachineID]string
	byConn      map[string]mpo.MachineID
	logger      *log.Entry
}

// NewRegistry creates an empty registry
func NewRegistry(logger *log.Entry) *Registry {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Registry{
		connections: make(map[string]Connection),
		machines:    make(map[mpo.MachineID]string),
		byConn:      make(map[string]mpo.MachineID),
		logger:      logger.WithField("component", "network"),
	}
}

// Add registers conn
func (r *Registry) Add(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[conn.ID()]; !ok {
		metrics.Connections.Inc()
	}
	r.connections[conn.ID()] = conn
}

// Remove unregisters a connection, returning the machine it was mapped to
func (r *Registry) Remove(id string) (mpo.MachineID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[id]; ok {
		metrics.Connections.Dec()
	}
	delete(r.connections, id)
	machine, mapped := r.byConn[id]
	if mapped {
		delete(r.byConn, id)
		if r.machines[machine] == id {
			delete(r.machines, machine)
		}
	}
	return machine, mapped
}

// Map routes machine to the connection with id
func (r *Registry) Map(machine mpo.MachineID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[machine] = id
	r.byConn[id] = machine
	r.logger.WithFields(log.Fields{"machine": machine, "connection": id}).Debug("machine mapped")
}

// Unmap removes the route of machine
func (r *Registry) Unmap(machine mpo.MachineID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.machines[machine]; ok {
		delete(r.byConn, id)
	}
	delete(r.machines, machine)
}

// FindConnection returns the connection serving machine
func (r *Registry) FindConnection(machine mpo.MachineID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.machines[machine]
	if !ok {
		return nil, false
	}
	conn, ok := r.connections[id]
	return conn, ok
}

// Machine returns the machine a connection serves
func (r *Registry) Machine(id string) (mpo.MachineID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	machine, ok := r.byConn[id]
	return machine, ok
}

// Connection returns a connection by id
func (r *Registry) Connection(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// Connections returns every registered connection ordered by id
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	ret := make([]Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		ret = append(ret, conn)
	}
	r.mu.RUnlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID() < ret[j].ID() })
	return ret
}

// Daemons returns the connections mapped to a machine ordered by machine
func (r *Registry) Daemons() []Connection {
	r.mu.RLock()
	machines := make([]mpo.MachineID, 0, len(r.machines))
	for machine := range r.machines {
		machines = append(machines, machine)
	}
	sort.Slice(machines, func(i, j int) bool { return machines[i] < machines[j] })
	ret := make([]Connection, 0, len(machines))
	for _, machine := range machines {
		if conn, ok := r.connections[r.machines[machine]]; ok {
			ret = append(ret, conn)
		}
	}
	r.mu.RUnlock()
	return ret
}
