package socketio

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-jukebox/internal/version"
)

// EventPushSystemInfo answers system:info.
const EventPushSystemInfo = "pushSystemInfo"

// SystemInfo represents basic system information.
type SystemInfo struct {
	Host       string       `json:"host"`       // Hostname
	Version    version.Info `json:"version"`    // Build metadata
	Partitions []string     `json:"partitions"` // Partitions with a jukebox
	Default    string       `json:"default"`    // Partition new clients follow
}

// GetSystemInfo returns basic system information.
func GetSystemInfo(partitions []string, defaultPartition string) SystemInfo {
	info := SystemInfo{
		Version:    version.GetInfo(),
		Partitions: append([]string{}, partitions...),
		Default:    defaultPartition,
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Host = hostname
	}
	return info
}

// HandleSystemInfo pushes the system information.
func (h *Handlers) HandleSystemInfo(client Conn, _ map[string]interface{}) {
	log.Debug().Str("id", client.ID()).Msg("Received system:info")
	client.Emit(EventPushSystemInfo, GetSystemInfo(h.partitions, h.defaultPartition))
}
