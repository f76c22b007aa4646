package socketio

import (
	"net"
	"sync"
)

// clientInfo is what the registry knows about one connection.
type clientInfo struct {
	conn      Conn
	ip        string
	partition string
}

// ClientRegistry tracks connected clients and the partition each one
// follows. Non-loopback clients are limited to maxExternal; when a new
// one exceeds the limit the oldest external client is evicted. A limit
// of zero or less disables eviction.
type ClientRegistry struct {
	mu          sync.Mutex
	maxExternal int
	// external client IDs, oldest first
	external []string
	clients  map[string]*clientInfo
}

// NewClientRegistry creates a registry allowing maxExternal concurrent
// non-loopback clients.
func NewClientRegistry(maxExternal int) *ClientRegistry {
	return &ClientRegistry{
		maxExternal: maxExternal,
		clients:     make(map[string]*clientInfo),
	}
}

// Add registers conn following partition. It returns the evicted client,
// if any, which the caller is expected to close.
func (r *ClientRegistry) Add(conn Conn, ip, partition string) (evicted Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, ok := r.clients[id]; ok {
		return nil
	}
	r.clients[id] = &clientInfo{conn: conn, ip: ip, partition: partition}

	if isLocalIP(ip) {
		return nil
	}
	r.external = append(r.external, id)
	if r.maxExternal <= 0 || len(r.external) <= r.maxExternal {
		return nil
	}

	oldest := r.external[0]
	r.external = r.external[1:]
	info := r.clients[oldest]
	delete(r.clients, oldest)
	return info.conn
}

// Remove unregisters a client.
func (r *ClientRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.clients[id]
	if !ok {
		return
	}
	delete(r.clients, id)
	if isLocalIP(info.ip) {
		return
	}
	for i, ext := range r.external {
		if ext == id {
			r.external = append(r.external[:i], r.external[i+1:]...)
			break
		}
	}
}

// Partition returns the partition followed by client id.
func (r *ClientRegistry) Partition(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.clients[id]
	if !ok {
		return "", false
	}
	return info.partition, true
}

// SetPartition switches the partition followed by client id and returns
// the previous one.
func (r *ClientRegistry) SetPartition(id, partition string) (previous string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.clients[id]
	if !ok {
		return "", false
	}
	previous = info.partition
	info.partition = partition
	return previous, true
}

// Len returns the number of registered clients.
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// remoteIP extracts the host of addr; nil or unparsable addresses
// yield an empty string.
func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func isLocalIP(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
