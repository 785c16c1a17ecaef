// Package device selects where model weights live and kernels run.
package device

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/samcharles93/llmfunc/internal/errs"
	"github.com/samcharles93/llmfunc/internal/logger"
)

const (
	CPU  = "cpu"
	CUDA = "cuda"
	Auto = "auto"
)

// Device is a compute target.
type Device interface {
	Name() string
	// Threads is the number of goroutines kernels may fan out to.
	Threads() int
	Features() []string
}

// Normalize canonicalises a user supplied device name.
func Normalize(name string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(name))
	if d == "" {
		return Auto, nil
	}
	switch d {
	case CPU, CUDA, Auto:
		return d, nil
	default:
		return "", errs.New(errs.ErrInvalidArgument, "device", "unknown device %q (expected auto, cpu, or cuda)", name)
	}
}

// Available lists the devices compiled into this build.
func Available() string { return CPU }

// Choose returns the CPU unless forceCPU is false and an accelerator exists.
// This build has none, so non-forced requests fall back to CPU.
func Choose(forceCPU bool, log logger.Logger) Device {
	if log == nil {
		log = logger.Nop()
	}
	d := NewCPU()
	if !forceCPU {
		log.Info("no accelerator available, running on cpu", "available", Available())
	}
	return d
}

// ByName resolves a normalised device name.
func ByName(name string, log logger.Logger) (Device, error) {
	n, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch n {
	case CUDA:
		return nil, errs.New(errs.ErrInvalidArgument, "device", "cuda is not available in this build")
	case CPU:
		return Choose(true, log), nil
	default:
		return Choose(false, log), nil
	}
}

// CPUDevice runs kernels on the host.
type CPUDevice struct {
	threads int
}

// NewCPU sizes the device to GOMAXPROCS.
func NewCPU() *CPUDevice {
	return &CPUDevice{threads: runtime.GOMAXPROCS(0)}
}

func (d *CPUDevice) Name() string       { return CPU }
func (d *CPUDevice) Threads() int       { return d.threads }
func (d *CPUDevice) Features() []string { return Features() }

func (d *CPUDevice) String() string {
	return fmt.Sprintf("cpu(%s/%s, %d threads)", runtime.GOOS, runtime.GOARCH, d.threads)
}
