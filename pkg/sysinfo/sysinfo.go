// Package sysinfo backs GET /api/v1/system-info with the hardware and
// backend inventory spec.md §6 asks for. It has no teacher source file to
// generalize — hardware probing is out of scope as a *feature* per
// spec.md §1 — but the router still needs the endpoint, and SPEC_FULL.md's
// ambient-dependency rule gives the teacher's own go.mod-declared ghw and
// go-sysinfo dependencies a home here rather than leaving them unused.
package sysinfo

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/elastic/go-sysinfo"
	"github.com/jaypipes/ghw"
)

// CPUInfo is the subset of ghw's cpu.Info the endpoint reports.
type CPUInfo struct {
	Model        string `json:"model"`
	TotalCores   uint32 `json:"total_cores"`
	TotalThreads uint32 `json:"total_threads"`
}

// MemoryInfo reports total addressable RAM.
type MemoryInfo struct {
	TotalBytes int64 `json:"total_bytes"`
}

// GPUInfo is one detected graphics device.
type GPUInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// HostInfo is OS/kernel identification via go-sysinfo.
type HostInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	OSVersion    string `json:"os_version"`
	Architecture string `json:"architecture"`
	KernelVersion string `json:"kernel_version"`
}

// BackendInfo reports one registered recipe's adapter identity, so clients
// can tell which engine families this router instance can actually serve.
type BackendInfo struct {
	Recipe       string   `json:"recipe"`
	Capabilities []string `json:"capabilities"`
}

// SystemInfo is the full GET /api/v1/system-info payload.
type SystemInfo struct {
	Host     HostInfo      `json:"host"`
	CPU      CPUInfo       `json:"cpu"`
	Memory   MemoryInfo    `json:"memory"`
	GPUs     []GPUInfo     `json:"gpus"`
	Backends []BackendInfo `json:"backends"`
}

// Collect gathers hardware inventory via ghw and host identification via
// go-sysinfo. Individual probe failures (e.g. no GPU present, or running
// inside a container with restricted /sys access) degrade the
// corresponding field to its zero value rather than failing the whole
// response — a client asking "what can this box do" still wants the parts
// that did resolve.
func Collect(ctx context.Context, backends []BackendInfo) SystemInfo {
	info := SystemInfo{Backends: backends}

	if cpuInfo, err := ghw.CPU(); err == nil && cpuInfo != nil {
		info.CPU.TotalCores = cpuInfo.TotalCores
		info.CPU.TotalThreads = cpuInfo.TotalThreads
		if len(cpuInfo.Processors) > 0 {
			info.CPU.Model = cpuInfo.Processors[0].Model
		}
	}

	if memInfo, err := ghw.Memory(); err == nil && memInfo != nil {
		info.Memory.TotalBytes = memInfo.TotalPhysicalBytes
	}

	if gpuInfo, err := ghw.GPU(); err == nil && gpuInfo != nil {
		for i, card := range gpuInfo.GraphicsCards {
			name := "unknown"
			if card.DeviceInfo != nil && card.DeviceInfo.Product != nil {
				name = card.DeviceInfo.Product.Name
			}
			info.GPUs = append(info.GPUs, GPUInfo{Index: i, Name: name})
		}
	}

	if host, err := sysinfo.Host(); err == nil && host != nil {
		h := host.Info()
		info.Host = HostInfo{
			Hostname:      h.Hostname,
			Architecture:  h.Architecture,
			KernelVersion: h.KernelVersion,
		}
		if h.OS != nil {
			info.Host.OS = h.OS.Name
			info.Host.OSVersion = h.OS.Version
		}
	}

	return info
}

// npuDriverVersionEnv lets a host report its installed NPU driver version
// without this package depending on any vendor SDK, matching the abstract,
// contract-only DeviceInventory capability described in spec.md §1 (probing
// beyond this is explicitly out of scope).
const npuDriverVersionEnv = "LEMONADE_NPU_DRIVER_VERSION"

// NPUDriverVersion reports the host's installed NPU driver version for the
// flm/ryzenai-llm DriverVersionChecker gate. It is a thin, swappable shim:
// real driver-version discovery is vendor-SDK territory outside this
// repository's scope, so it reads an operator-supplied override and
// otherwise reports that no NPU driver was found.
func NPUDriverVersion(_ context.Context) (string, error) {
	if v := strings.TrimSpace(os.Getenv(npuDriverVersionEnv)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no NPU driver detected (set %s to override)", npuDriverVersionEnv)
}
