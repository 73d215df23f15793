//go:build !linux

package host

import (
	"errors"

	"github.com/biscuit-vm/uvm/internal/pte"
)

var errUnsupported = errors.New("host: AWE-equivalent mapping primitive is Linux-only in this build")

// LinuxAWE is unavailable outside Linux; NewLinuxAWE always fails so
// callers get a clear error instead of a silent no-op mapper.
type LinuxAWE struct{}

func NewLinuxAWE(nframes int) (*LinuxAWE, error) { return nil, errUnsupported }

func (a *LinuxAWE) ReserveVA(npages int) (uintptr, error)             { return 0, errUnsupported }
func (a *LinuxAWE) MapPhysical(uintptr, int32, pte.Perm) error        { return errUnsupported }
func (a *LinuxAWE) Unmap(uintptr) error                               { return errUnsupported }
func (a *LinuxAWE) Protect(uintptr, pte.Perm) error                   { return errUnsupported }
func (a *LinuxAWE) FrameOffset(int32) int64                           { return 0 }
func (a *LinuxAWE) Close() error                                      { return nil }

const (
	protRead  = 0
	protWrite = 0
	protExec  = 0
)
