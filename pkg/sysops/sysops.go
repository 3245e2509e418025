// Package sysops serves system inspection commands: host info, performance
// counters, and process control.
package sysops

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Info is the GET_SYS_INFO payload.
type Info struct {
	Hostname   string `json:"hostname"`
	OS         string `json:"os"`
	Platform   string `json:"platform"`
	Arch       string `json:"arch"`
	CPUModel   string `json:"cpuModel"`
	CPUCores   int    `json:"cpuCores"`
	TotalMemMB uint64 `json:"totalMemMb"`
	UptimeSec  uint64 `json:"uptimeSec"`
}

// Perf is the GET_PERFORMANCE payload.
type Perf struct {
	CPUPercent  float64 `json:"cpuPercent"`
	MemPercent  float64 `json:"memPercent"`
	MemUsedMB   uint64  `json:"memUsedMb"`
	MemTotalMB  uint64  `json:"memTotalMb"`
	DiskPercent float64 `json:"diskPercent"`
	DiskFreeGB  float64 `json:"diskFreeGb"`
}

// Proc is one entry of the GET_PROCESS payload.
type Proc struct {
	PID    int32   `json:"pid"`
	Name   string  `json:"name"`
	CPU    float64 `json:"cpu"`
	MemMB  float32 `json:"memMb"`
	Status string  `json:"status"`
}

// App is one entry of the GET_APPS payload: a process that owns an
// executable path, deduplicated by name.
type App struct {
	Name string `json:"name"`
	Path string `json:"path"`
	PID  int32  `json:"pid"`
}

// Ops implements the system command surface.
type Ops struct {
	logger *slog.Logger
}

// New creates the system operations collaborator.
func New(logger *slog.Logger) *Ops {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ops{logger: logger}
}

// SystemInfo gathers static host facts.
func (o *Ops) SystemInfo() (Info, error) {
	hi, err := host.Info()
	if err != nil {
		return Info{}, fmt.Errorf("host info: %w", err)
	}

	info := Info{
		Hostname:  hi.Hostname,
		OS:        hi.OS,
		Platform:  fmt.Sprintf("%s %s", hi.Platform, hi.PlatformVersion),
		Arch:      runtime.GOARCH,
		UptimeSec: hi.Uptime,
	}

	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	info.CPUCores = runtime.NumCPU()

	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemMB = vm.Total / (1 << 20)
	}
	return info, nil
}

// PerformanceStats samples the live counters viewers poll at high frequency.
func (o *Ops) PerformanceStats() (Perf, error) {
	var p Perf

	// Non-blocking sample: percentage since the previous call.
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		p.CPUPercent = pcts[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return p, fmt.Errorf("memory stats: %w", err)
	}
	p.MemPercent = vm.UsedPercent
	p.MemUsedMB = vm.Used / (1 << 20)
	p.MemTotalMB = vm.Total / (1 << 20)

	if du, err := disk.Usage(rootPath()); err == nil {
		p.DiskPercent = du.UsedPercent
		p.DiskFreeGB = float64(du.Free) / (1 << 30)
	}
	return p, nil
}

// Processes lists running processes sorted by memory, heaviest first.
func (o *Ops) Processes() ([]Proc, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]Proc, 0, len(procs))
	for _, pr := range procs {
		name, err := pr.Name()
		if err != nil {
			continue
		}
		entry := Proc{PID: pr.Pid, Name: name}
		if c, err := pr.CPUPercent(); err == nil {
			entry.CPU = c
		}
		if mi, err := pr.MemoryInfo(); err == nil && mi != nil {
			entry.MemMB = float32(mi.RSS) / (1 << 20)
		}
		if st, err := pr.Status(); err == nil && len(st) > 0 {
			entry.Status = st[0]
		}
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].MemMB > out[j].MemMB })
	return out, nil
}

// Kill terminates a process by pid.
func (o *Ops) Kill(pid int32) error {
	pr, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("process %d: %w", pid, err)
	}
	if err := pr.Kill(); err != nil {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	o.logger.Info("process killed", "pid", pid)
	return nil
}

// Apps lists processes that resolve to an executable path, one per name.
func (o *Ops) Apps() ([]App, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	seen := make(map[string]bool)
	var apps []App
	for _, pr := range procs {
		name, err := pr.Name()
		if err != nil || seen[name] {
			continue
		}
		exe, err := pr.Exe()
		if err != nil || exe == "" {
			continue
		}
		seen[name] = true
		apps = append(apps, App{Name: name, Path: exe, PID: pr.Pid})
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps, nil
}

// StartApp launches an executable detached from the agent.
func (o *Ops) StartApp(path string) error {
	if path == "" {
		return fmt.Errorf("empty application path")
	}
	cmd := exec.Command(path)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", path, err)
	}
	go cmd.Wait()
	o.logger.Info("application started", "path", path, "pid", cmd.Process.Pid)
	return nil
}

func rootPath() string {
	if runtime.GOOS == "windows" {
		return "C:\\"
	}
	return "/"
}

// Uptime formats seconds as d/h/m for LOG events.
func Uptime(sec uint64) string {
	d := time.Duration(sec) * time.Second
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
}
