package contracts

import "time"

// Cache status values reported by the backend
const (
	CacheConnected   = "connected"
	CacheUnavailable = "unavailable"
	CacheError       = "error"
)

// CacheStats is the backend's advisory cache snapshot.
// It never gates correctness; the dashboard only displays it.
type CacheStats struct {
	Status    string                 `json:"status"`
	Healthy   bool                   `json:"healthy"`
	TotalKeys int64                  `json:"total_keys,omitempty"`
	Hits      int64                  `json:"hits,omitempty"`
	Misses    int64                  `json:"misses,omitempty"`
	HitRate   float64                `json:"hit_rate,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Raw       map[string]interface{} `json:"raw,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
}

// Connected reports whether the backend cache is reachable
func (s *CacheStats) Connected() bool {
	return s != nil && s.Status == CacheConnected
}

// WarmResult is the backend's acknowledgement of a warm request.
// The warm itself completes out of band.
type WarmResult struct {
	Message       string `json:"message"`
	Year          int    `json:"year"`
	Status        string `json:"status"`
	EstimatedTime string `json:"estimated_time,omitempty"`
}

// Health is the backend liveness response
type Health struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
}
