package agent

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/burrowctl/burrow/pkg/types"
)

// Sampler reads host resource usage from /proc. CPU usage is a delta
// between consecutive samples, so the first sample reports zero.
type Sampler struct {
	mu       sync.Mutex
	fs       procfs.FS
	fsOK     bool
	lastBusy float64
	lastIdle float64

	// ContainerCount is set by the caller before sampling; the sampler
	// itself only knows about the host.
	ContainerCount int
}

// NewSampler creates a host metrics sampler.
func NewSampler() *Sampler {
	s := &Sampler{}
	if fs, err := procfs.NewDefaultFS(); err == nil {
		s.fs = fs
		s.fsOK = true
	}
	return s
}

// Sample takes a point-in-time resource reading.
func (s *Sampler) Sample() *types.NodeMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &types.NodeMetrics{
		Timestamp:      time.Now(),
		ContainerCount: s.ContainerCount,
	}
	m.CPUPercent = s.cpuPercent()
	m.MemoryPercent = s.memoryPercent()
	m.DiskPercent = diskPercent("/")
	return m
}

// Capabilities reports the host's static capacity.
func (s *Sampler) Capabilities() *types.Capabilities {
	caps := &types.Capabilities{
		CPUCores: runtime.NumCPU(),
		GPU:      hasNvidiaGPU(),
	}
	if s.fsOK {
		if mi, err := s.fs.Meminfo(); err == nil && mi.MemTotal != nil {
			caps.MemoryMB = int64(*mi.MemTotal / 1024)
		}
	}
	var st unix.Statfs_t
	if err := unix.Statfs("/", &st); err == nil {
		caps.DiskGB = int64(uint64(st.Bsize) * st.Blocks / (1 << 30))
	}
	return caps
}

func (s *Sampler) cpuPercent() float64 {
	if !s.fsOK {
		return 0
	}
	stat, err := s.fs.Stat()
	if err != nil {
		return 0
	}

	c := stat.CPUTotal
	busy := c.User + c.Nice + c.System + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
	idle := c.Idle

	dBusy := busy - s.lastBusy
	dTotal := dBusy + (idle - s.lastIdle)
	first := s.lastBusy == 0 && s.lastIdle == 0
	s.lastBusy, s.lastIdle = busy, idle

	if first || dTotal <= 0 {
		return 0
	}
	return 100 * dBusy / dTotal
}

func (s *Sampler) memoryPercent() float64 {
	if !s.fsOK {
		return 0
	}
	mi, err := s.fs.Meminfo()
	if err != nil || mi.MemTotal == nil || mi.MemAvailable == nil || *mi.MemTotal == 0 {
		return 0
	}
	used := *mi.MemTotal - *mi.MemAvailable
	return 100 * float64(used) / float64(*mi.MemTotal)
}

func diskPercent(path string) float64 {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil || st.Blocks == 0 {
		return 0
	}
	used := st.Blocks - st.Bfree
	return 100 * float64(used) / float64(st.Blocks)
}

func hasNvidiaGPU() bool {
	_, err := os.Stat("/dev/nvidia0")
	return err == nil
}
