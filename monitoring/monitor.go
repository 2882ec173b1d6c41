// Package monitoring turns a running driver into a small HTTP server
// so device state can be watched from outside the process: power
// state, queue depths, command counters, and the host process's own
// resource usage.
package monitoring

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"

	"github.com/JordanYates/nrf-wifi/hal"
)

// Monitor serves driver state over HTTP.
type Monitor struct {
	portNumber int

	mu      sync.Mutex
	devices map[string]*hal.DeviceCtx
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{devices: make(map[string]*hal.DeviceCtx)}
}

// WithPortNumber sets the listening port. Ports below 1000 are
// rejected and replaced with a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is not allowed for the monitoring server. "+
				"Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterDevice adds a device to be monitored under the given name.
func (m *Monitor) RegisterDevice(name string, dev *hal.DeviceCtx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.devices[name] = dev
}

// DeviceState is the wire form of one device's status.
type DeviceState struct {
	Name        string `json:"name"`
	PowerState  string `json:"power_state"`
	Status      string `json:"status"`
	NumCmds     uint32 `json:"num_cmds"`
	CmdQueueLen int    `json:"cmd_queue_len"`
	EventQLen   int    `json:"event_queue_len"`
}

// ProcessState is the wire form of host-process resource usage.
type ProcessState struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemRSS     uint64  `json:"mem_rss"`
}

// Handler returns the route table. Tests serve it directly; StartServer
// wraps it in a listener.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/devices", m.listDevices)
	r.HandleFunc("/api/process", m.processInfo)
	return r
}

// StartServer starts listening and returns the bound address, which
// matters when a random port was picked.
func (m *Monitor) StartServer() (string, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", m.portNumber))
	if err != nil {
		return "", fmt.Errorf("monitoring: listen: %w", err)
	}

	fmt.Fprintf(os.Stderr,
		"Monitoring server started on http://localhost:%d\n",
		listener.Addr().(*net.TCPAddr).Port)

	go func() {
		if err := http.Serve(listener, m.Handler()); err != nil {
			log.Printf("monitoring: server stopped: %v", err)
		}
	}()

	return listener.Addr().String(), nil
}

func (m *Monitor) listDevices(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	states := make([]DeviceState, 0, len(m.devices))
	for name, dev := range m.devices {
		status := "Disabled"
		if dev.StatusUnlocked() == hal.StatusEnabled {
			status = "Enabled"
		}

		states = append(states, DeviceState{
			Name:        name,
			PowerState:  dev.PowerState().String(),
			Status:      status,
			NumCmds:     dev.NumCmds(),
			CmdQueueLen: dev.CmdQueueLen(),
			EventQLen:   dev.EventQueueLen(),
		})
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(states); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m *Monitor) processInfo(w http.ResponseWriter, _ *http.Request) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	state := ProcessState{PID: p.Pid}
	if cpu, err := p.CPUPercent(); err == nil {
		state.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil {
		state.MemRSS = mem.RSS
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
