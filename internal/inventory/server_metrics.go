package inventory

import (
	"math"
	"strings"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
)

// ServerMetrics are the capacity figures carried in a server payload.
type ServerMetrics struct {
	CPUCores   *int     `json:"cpuCores"`
	MemoryGB   *float64 `json:"memoryGb"`
	DiskGB     *float64 `json:"diskGb"`
	ServerType string   `json:"serverType"`
	OS         string   `json:"os"`
	IPv6       string   `json:"ipv6"`
}

func ParseServerMetrics(raw provider.Item) ServerMetrics {
	var m ServerMetrics
	st := provider.Object(raw["server_type"])
	if v, ok := provider.Float(st["cores"]); ok {
		n := int(math.Round(v))
		m.CPUCores = &n
	}
	if v, ok := provider.Float(st["memory"]); ok {
		m.MemoryGB = &v
	}
	if v, ok := provider.Float(st["disk"]); ok {
		m.DiskGB = &v
	}
	m.ServerType = text(st["name"])
	m.OS = firstText(raw, []string{"image", "os_flavor"}, []string{"image", "name"})
	m.IPv6 = text(provider.Dig(raw, "public_net", "ipv6", "ip"))
	return m
}

// Capacity aggregates a server list.
type Capacity struct {
	Servers  int     `json:"servers"`
	Running  int     `json:"running"`
	CPUCores int     `json:"cpuCores"`
	MemoryGB float64 `json:"memoryGb"`
	DiskGB   float64 `json:"diskGb"`
}

var runningStatuses = map[string]bool{"running": true, "ok": true, "active": true, "healthy": true}

func SummarizeCapacity(servers []ServerView) Capacity {
	var c Capacity
	for _, s := range servers {
		c.Servers++
		if runningStatuses[strings.ToLower(strings.TrimSpace(s.Status))] {
			c.Running++
		}
		if s.Metrics.CPUCores != nil {
			c.CPUCores += *s.Metrics.CPUCores
		}
		if s.Metrics.MemoryGB != nil {
			c.MemoryGB += *s.Metrics.MemoryGB
		}
		if s.Metrics.DiskGB != nil {
			c.DiskGB += *s.Metrics.DiskGB
		}
	}
	return c
}
