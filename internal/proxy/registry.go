package proxy

import (
	"cmp"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"sync"
	"time"
)

// State is the lifecycle stage of a Connection.
type State int32

const (
	StateHandshaking State = iota
	StateRelaying
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateRelaying:
		return "relaying"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Destination is where a client asked to be connected. Exactly one of IP and
// Host is set.
type Destination struct {
	IP   netip.Addr
	Host string
	Port uint16
}

// String returns host:port, with IPv6 literals bracketed.
func (d Destination) String() string {
	host := d.Host
	if d.IP.IsValid() {
		host = d.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(d.Port)))
}

// ConnectionInfo is a point-in-time view of a Connection.
type ConnectionInfo struct {
	ID          uint64
	Client      net.Addr
	Destination Destination
	State       State
	Accepted    time.Time
}

// Connection is one accepted client and, once connected, its upstream leg.
type Connection struct {
	id       uint64
	local    net.Conn
	accepted time.Time
	registry *Registry

	mu     sync.Mutex
	remote net.Conn
	dest   Destination
	state  State

	closeOnce sync.Once
}

func (c *Connection) ID() uint64 {
	return c.id
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Info() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionInfo{
		ID:          c.id,
		Client:      c.local.RemoteAddr(),
		Destination: c.dest,
		State:       c.state,
		Accepted:    c.accepted,
	}
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	if c.state != StateTerminated {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Connection) setDestination(d Destination) {
	c.mu.Lock()
	c.dest = d
	c.mu.Unlock()
}

// attachRemote hands the upstream leg to c. If c is already closed, remote
// is closed instead and false is returned.
func (c *Connection) attachRemote(remote net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateTerminated {
		_ = remote.Close()
		return false
	}
	c.remote = remote
	return true
}

// Close closes both legs and removes c from its registry. Only the first call
// has any effect.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateTerminated
		remote := c.remote
		c.mu.Unlock()

		_ = c.local.Close()
		if remote != nil {
			_ = remote.Close()
		}
		c.registry.Remove(c)
	})
	return nil
}

// Registry tracks live connections.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	conns  map[uint64]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint64]*Connection)}
}

// Add registers a newly accepted client connection.
func (r *Registry) Add(local net.Conn) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	c := &Connection{
		id:       r.nextID,
		local:    local,
		accepted: time.Now(),
		registry: r,
	}
	r.conns[c.id] = c
	connectionsActive.Inc()
	return c
}

// Remove unregisters c. It reports whether c was registered, so a second
// removal of the same connection returns false.
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.id]; !ok {
		return false
	}
	delete(r.conns, c.id)
	connectionsActive.Dec()
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Snapshot returns the live connections ordered by ID.
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.Info())
	}
	slices.SortFunc(infos, func(a, b ConnectionInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return infos
}

// CloseAll closes every live connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
