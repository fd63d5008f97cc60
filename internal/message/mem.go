package message

import (
	"fmt"
	"math"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// MemoryReader reports this process's resident set size.
type MemoryReader struct {
	proc *process.Process
}

// NewMemoryReader binds a reader to the current process. Platforms where the
// probe fails yield a reader that reports "unknown" instead of an error.
func NewMemoryReader() *MemoryReader {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return &MemoryReader{}
	}
	return &MemoryReader{proc: proc}
}

// Human returns the resident set size in human-readable binary units.
func (r *MemoryReader) Human() string {
	if r == nil || r.proc == nil {
		return "unknown"
	}
	info, err := r.proc.MemoryInfo()
	if err != nil || info == nil {
		return "unknown"
	}
	return HumanBytes(info.RSS, false, 2)
}

// HumanBytes formats a byte count using decimal (si) or binary units with the
// given number of decimal places.
func HumanBytes(bytes uint64, si bool, decimals int) string {
	threshold := 1024.0
	units := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	if si {
		threshold = 1000.0
		units = []string{"kB", "MB", "GB", "TB", "PB", "EB"}
	}
	value := float64(bytes)
	if value < threshold {
		return fmt.Sprintf("%d B", bytes)
	}
	if decimals < 0 {
		decimals = 0
	}
	round := math.Pow(10, float64(decimals))
	unit := -1
	for {
		value /= threshold
		unit++
		if math.Round(math.Abs(value)*round)/round < threshold || unit == len(units)-1 {
			break
		}
	}
	return fmt.Sprintf("%.*f %s", decimals, value, units[unit])
}
