package resource

import (
	"fmt"
	"strconv"

	"github.com/go-sif/sifudf/config"
)

// Device reports on the accelerator assigned to this process
type Device interface {
	ID() int
	FreeMemory() (uint64, error)
}

// StaticDevice is a Device whose free memory is fixed by configuration
type StaticDevice struct {
	DeviceID int
	Free     uint64
}

// NewStaticDevice creates a StaticDevice from configuration
func NewStaticDevice(cfg config.DeviceConfig) *StaticDevice {
	return &StaticDevice{DeviceID: cfg.ID, Free: cfg.FreeMemory.Bytes()}
}

// ID returns the configured device ID
func (d *StaticDevice) ID() int { return d.DeviceID }

// FreeMemory returns the configured free memory
func (d *StaticDevice) FreeMemory() (uint64, error) { return d.Free, nil }

// Environment variables exported to every worker launch
const (
	EnvDeviceID         = "CUDA_VISIBLE_DEVICES"
	EnvEnabled          = "SIFUDF_ACCELERATOR_ENABLED"
	EnvUVMEnabled       = "SIFUDF_UVM_ENABLED"
	EnvPooledMemEnabled = "SIFUDF_POOLED_MEM_ENABLED"
	EnvPoolSize         = "SIFUDF_POOLED_MEM_SIZE"
	EnvPoolMaxSize      = "SIFUDF_POOLED_MEM_MAX_SIZE"
)

// WorkerEnv returns the environment entries describing the device and memory budget to a worker
func WorkerEnv(device Device, enabled bool, mem config.MemoryConfig, wm WorkerMemory) []string {
	return []string{
		fmt.Sprintf("%s=%d", EnvDeviceID, device.ID()),
		fmt.Sprintf("%s=%s", EnvEnabled, strconv.FormatBool(enabled)),
		fmt.Sprintf("%s=%s", EnvUVMEnabled, strconv.FormatBool(mem.UVMEnabled)),
		fmt.Sprintf("%s=%s", EnvPooledMemEnabled, strconv.FormatBool(mem.PooledMemEnabled)),
		fmt.Sprintf("%s=%d", EnvPoolSize, wm.PoolBytes),
		fmt.Sprintf("%s=%d", EnvPoolMaxSize, wm.MaxPoolBytes),
	}
}
