package inspect

import (
	"fmt"
	"net"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// Observation is a point-in-time snapshot of OS-level facts about one
// service: whether the recorded PID is alive, which PID (if any) owns the
// service port, and whether the port accepts TCP connections. Observations
// are produced fresh for every verification and are never cached or
// persisted.
type Observation struct {
	PID            int // the PID that was probed (0 when none was on record)
	ProcessExists  bool
	PortOwnerPID   int // 0 when no listener owns the port
	PortResponsive bool
	ObservedAt     time.Time
}

// OwnsPort reports whether the probed PID is the port's current listener.
func (o Observation) OwnsPort() bool {
	return o.PID > 0 && o.PortOwnerPID == o.PID
}

// LiveOnPort reports whether any live process is serving the port.
func (o Observation) LiveOnPort() bool {
	return o.PortOwnerPID > 0 || o.PortResponsive
}

const dialTimeout = 500 * time.Millisecond

// Observe runs all probes for one service. pid may be 0 when no PID is on
// record; port is the service's configured port.
func Observe(pid, port int) Observation {
	o := Observation{PID: pid, ObservedAt: time.Now()}
	if pid > 0 {
		o.ProcessExists = ProcessExists(pid)
	}
	if owner, ok := OwnerOfPort(port); ok {
		o.PortOwnerPID = owner
	}
	o.PortResponsive = PortResponsive(port)
	return o
}

// OwnerOfPort returns the PID listening on the given TCP port. Absence is an
// expected outcome and is reported as ok=false, never as an error. The PID
// may be unavailable for sockets owned by other users without elevated
// privileges; those are reported as not found.
func OwnerOfPort(port int) (int, bool) {
	if port <= 0 {
		return 0, false
	}
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return 0, false
	}
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port {
			continue
		}
		if c.Pid > 0 {
			return int(c.Pid), true
		}
	}
	return 0, false
}

// PortResponsive reports whether the port accepts a TCP connection within a
// short timeout. Refused and timed-out connects are normal negative results.
func PortResponsive(port int) bool {
	if port <= 0 {
		return false
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), dialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
