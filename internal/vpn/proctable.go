package vpn

import (
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo describes one running process as seen in the process table.
type ProcessInfo struct {
	PID     int32
	Name    string
	Cmdline string
}

// ProcessTable lists running processes. The production implementation is
// backed by gopsutil; tests substitute a fixed table.
type ProcessTable interface {
	Processes() ([]ProcessInfo, error)
}

// SystemProcessTable reads the live process table.
type SystemProcessTable struct{}

func (SystemProcessTable) Processes() ([]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		// Name/Cmdline fail for processes that exited mid-scan or that we
		// can't inspect; skip those rather than failing the whole listing.
		name, err := p.Name()
		if err != nil {
			continue
		}
		cmdline, _ := p.Cmdline()
		infos = append(infos, ProcessInfo{PID: p.Pid, Name: name, Cmdline: cmdline})
	}
	return infos, nil
}
