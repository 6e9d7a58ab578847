package model

import "time"

// HostStats represents a sample of host resource usage
type HostStats struct {
	Hostname    string        `json:"hostname"`
	Platform    string        `json:"platform"`
	Uptime      time.Duration `json:"uptime"`
	CPUUsage    float64       `json:"cpu_usage"`
	CPUCount    int           `json:"cpu_count"`
	Load1       float64       `json:"load1"`
	Load5       float64       `json:"load5"`
	Load15      float64       `json:"load15"`
	MemoryTotal uint64        `json:"memory_total"`
	MemoryUsed  uint64        `json:"memory_used"`
	MemoryUsage float64       `json:"memory_usage"`
	DiskTotal   uint64        `json:"disk_total"`
	DiskUsed    uint64        `json:"disk_used"`
	DiskUsage   float64       `json:"disk_usage"`
	CollectedAt time.Time     `json:"collected_at"`
}
