package domain

import "time"

// NetworkState is the process-wide connectivity view owned by the network monitor.
type NetworkState struct {
	IsOnline    bool       `json:"is_online"`
	LastOnline  *time.Time `json:"last_online,omitempty"`
	LastOffline *time.Time `json:"last_offline,omitempty"`
}
