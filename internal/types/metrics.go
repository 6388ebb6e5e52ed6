package types

import "time"

// NetworkIO holds cumulative network counters since boot
type NetworkIO struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// SystemMetricsSnapshot is one host sample. It is never modified after
// being recorded.
type SystemMetricsSnapshot struct {
	Timestamp       time.Time     `json:"timestamp"`
	CPUUsage        float64       `json:"cpu_usage"`
	CPUCount        int           `json:"cpu_count"`
	LoadAverage     [3]float64    `json:"load_average"`
	MemoryUsage     float64       `json:"memory_usage"`
	MemoryTotal     uint64        `json:"memory_total"`
	MemoryAvailable uint64        `json:"memory_available"`
	DiskUsage       float64       `json:"disk_usage"`
	DiskTotal       uint64        `json:"disk_total"`
	DiskFree        uint64        `json:"disk_free"`
	Network         NetworkIO     `json:"network_io"`
	ProcessCount    int           `json:"process_count"`
	Uptime          time.Duration `json:"uptime"`
}
