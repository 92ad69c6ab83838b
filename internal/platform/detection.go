/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package platform

import (
	"fmt"
	"runtime"
	"strings"
)

// BackendKind identifies which synthesis backend family suits the host
type BackendKind string

const (
	BackendMLX     BackendKind = "mlx"     // Apple Silicon
	BackendPyTorch BackendKind = "pytorch" // NVIDIA / everything else
)

// HardwareInfo contains system hardware information
type HardwareInfo struct {
	CPUCores     int    `json:"cpu_cores"`
	MemoryGB     int    `json:"memory_gb"`
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
}

// Descriptor is the result of platform detection. It is computed once at
// startup and handed to the backend factory.
type Descriptor struct {
	Backend    BackendKind  `json:"backend"`
	Hardware   HardwareInfo `json:"hardware"`
	Overridden bool         `json:"overridden"`
}

// Detect inspects the running process and picks a backend family
func Detect() Descriptor {
	memStats := &runtime.MemStats{}
	runtime.ReadMemStats(memStats)

	memoryGB := memStats.Sys / (1024 * 1024 * 1024)
	if memoryGB > 2147483647 { // Max int32
		memoryGB = 2147483647
	}

	return DetectFor(HardwareInfo{
		CPUCores:     runtime.NumCPU(),
		MemoryGB:     int(memoryGB), //nolint:gosec // G115: bounded above
		Architecture: runtime.GOARCH,
		OS:           runtime.GOOS,
	})
}

// DetectFor derives a descriptor from explicit hardware facts
func DetectFor(hw HardwareInfo) Descriptor {
	return Descriptor{
		Backend:  backendFor(hw.OS, hw.Architecture),
		Hardware: hw,
	}
}

func backendFor(goos, goarch string) BackendKind {
	if goos == "darwin" && goarch == "arm64" {
		return BackendMLX
	}
	return BackendPyTorch
}

// ParseBackend validates a backend name from configuration
func ParseBackend(name string) (BackendKind, error) {
	switch BackendKind(strings.ToLower(strings.TrimSpace(name))) {
	case BackendMLX:
		return BackendMLX, nil
	case BackendPyTorch:
		return BackendPyTorch, nil
	default:
		return "", fmt.Errorf("unknown backend %q", name)
	}
}

// WithOverride returns a copy forcing the named backend. An empty name keeps
// the detected choice.
func (d Descriptor) WithOverride(name string) (Descriptor, error) {
	if name == "" {
		return d, nil
	}
	kind, err := ParseBackend(name)
	if err != nil {
		return d, err
	}
	d.Overridden = kind != d.Backend
	d.Backend = kind
	return d, nil
}

// System returns "<os> <arch>", the form reported by the health endpoint
func (d Descriptor) System() string {
	return d.Hardware.OS + " " + d.Hardware.Architecture
}
