package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats - показатели процесса сервера для /health
type ProcessStats struct {
	Uptime     string  `json:"uptime"`
	UptimeSec  int64   `json:"uptime_sec"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSMB      float64 `json:"rss_mb"`
	HeapMB     float64 `json:"heap_mb"`
	Goroutines int     `json:"goroutines"`
	NumGC      uint32  `json:"num_gc"`
}

// processMetrics читает показатели текущего процесса
type processMetrics struct {
	start time.Time
	proc  *process.Process
}

func newProcessMetrics() *processMetrics {
	pm := &processMetrics{start: time.Now()}
	// без gopsutil отдаём только runtime-показатели
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		pm.proc = p
	}
	return pm
}

func (pm *processMetrics) snapshot() ProcessStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(pm.start)
	s := ProcessStats{
		Uptime:     formatUptime(uptime),
		UptimeSec:  int64(uptime.Seconds()),
		HeapMB:     float64(m.HeapAlloc) / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		NumGC:      m.NumGC,
	}
	if pm.proc != nil {
		if cpu, err := pm.proc.CPUPercent(); err == nil {
			s.CPUPercent = cpu
		}
		if mem, err := pm.proc.MemoryInfo(); err == nil && mem != nil {
			s.RSSMB = float64(mem.RSS) / 1024 / 1024
		}
	}
	return s
}

// formatUptime форматирует длительность в виде "1д 2ч 3м 4с"
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}
