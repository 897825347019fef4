package monitoring

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

type cpuStats struct {
	user   uint64
	nice   uint64
	system uint64
	idle   uint64
	iowait uint64
}

func (s cpuStats) busy() uint64  { return s.user + s.nice + s.system }
func (s cpuStats) total() uint64 { return s.busy() + s.idle + s.iowait }

// Version is set from build-time ldflags.
var Version = "dev"

func GetVersion() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// SystemMetrics contains all system metrics
type SystemMetrics struct {
	CPUUsage    float64
	MemoryUsage uint64
	MemoryTotal uint64
	DiskUsage   uint64
	DiskTotal   uint64
}

// Sampler collects system metrics. CPU usage is computed between two
// consecutive samples, the first sample reports 0.
type Sampler struct {
	mu   sync.Mutex
	last *cpuStats
}

// Collect gathers all system metrics, disk usage is measured for path.
func (s *Sampler) Collect(path string) SystemMetrics {
	memUsed, memTotal := memoryUsage()
	diskUsed, diskTotal := diskUsage(path)

	return SystemMetrics{
		CPUUsage:    s.cpuUsage(),
		MemoryUsage: memUsed,
		MemoryTotal: memTotal,
		DiskUsage:   diskUsed,
		DiskTotal:   diskTotal,
	}
}

func (s *Sampler) cpuUsage() float64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer f.Close()
	stats, ok := parseCPUStats(f)
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.last
	s.last = &stats
	if prev == nil {
		return 0
	}
	return cpuPercent(*prev, stats)
}

func cpuPercent(prev, cur cpuStats) float64 {
	total := cur.total() - prev.total()
	if total == 0 {
		return 0
	}
	return float64(cur.busy()-prev.busy()) / float64(total) * 100.0
}

// parseCPUStats reads the aggregate cpu line of /proc/stat
func parseCPUStats(r io.Reader) (cpuStats, bool) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			return cpuStats{}, false
		}
		var stats cpuStats
		stats.user, _ = strconv.ParseUint(fields[1], 10, 64)
		stats.nice, _ = strconv.ParseUint(fields[2], 10, 64)
		stats.system, _ = strconv.ParseUint(fields[3], 10, 64)
		stats.idle, _ = strconv.ParseUint(fields[4], 10, 64)
		stats.iowait, _ = strconv.ParseUint(fields[5], 10, 64)
		return stats, true
	}
	return cpuStats{}, false
}

// memoryUsage returns used and total memory in bytes
func memoryUsage() (uint64, uint64) {
	f, err := os.Open("/proc/meminfo")
	if err == nil {
		defer f.Close()
		if used, total, ok := parseMemInfo(f); ok {
			return used, total
		}
	}
	// Fallback to runtime stats
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc, 0
}

func parseMemInfo(r io.Reader) (used, total uint64, ok bool) {
	var available uint64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseUint(fields[1], 10, 64)
			total *= 1024
		case "MemAvailable:":
			available, _ = strconv.ParseUint(fields[1], 10, 64)
			available *= 1024
		}
	}
	if total == 0 || available == 0 || available > total {
		return 0, 0, false
	}
	return total - available, total, true
}

// diskUsage returns used and total bytes of the filesystem holding path
func diskUsage(path string) (uint64, uint64) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)
	return total - free, total
}

// FormatBytes converts bytes to human-readable format
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
