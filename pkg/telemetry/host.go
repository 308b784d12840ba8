package telemetry

import (
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// HostSampler reads process-host resource usage in percent.
type HostSampler interface {
	CPUPercent() (float64, error)
	MemoryPercent() (float64, error)
}

// SystemSampler samples the host with gopsutil.
type SystemSampler struct{}

// CPUPercent returns total CPU usage since the previous call.
func (SystemSampler) CPUPercent() (float64, error) {
	pct, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, nil
	}
	return pct[0], nil
}

// MemoryPercent returns used virtual memory.
func (SystemSampler) MemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}
