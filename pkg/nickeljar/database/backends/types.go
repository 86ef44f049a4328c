package backends

import "time"

// SchemaVersion is the version recorded after a successful migration.
const SchemaVersion = 1

// Status is the health snapshot of one backend connection.
type Status struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Version string        `json:"version"`
	Error   string        `json:"error,omitempty"`

	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}
