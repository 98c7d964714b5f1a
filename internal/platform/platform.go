// Package platform defines the external-collaborator seams the bzImage
// loader hands off through: a memory map query, a shutdown notification
// before control leaves the firmware, and the final jump into the
// loaded kernel. Implementing real trampolines (real real-mode segment
// switches, a genuine physical memory map from firmware/BIOS/EFI) is
// out of scope here — these are interfaces only, the same "external
// collaborator" pattern used elsewhere for storage backends
// (internal/netdevice.Driver, internal/xfer.Sink): one small
// capability interface, no knowledge of what implements it.
package platform

import "github.com/marmos91/netboot/internal/errcode"

// Region describes one contiguous span of physical memory.
type Region struct {
	Start  uint64
	End    uint64
	Usable bool
}

// MemoryMap reports the physical memory regions available to the
// loader, used to sanity-check segment and initrd placement against
// real RAM limits before committing to addresses.
type MemoryMap interface {
	Regions() ([]Region, error)
}

// Notifier is told when the firmware is about to hand off control, so
// it can tear down boot-time-only resources (network stack, timers,
// interrupt handlers) before the kernel takes over.
type Notifier interface {
	ShutdownBoot() error
}

// KernelJump performs the final, irreversible transfer of control into
// the loaded real-mode kernel entry point.
type KernelJump interface {
	// JumpToKernel never returns on success; returning at all indicates
	// the jump could not be performed.
	JumpToKernel(codeSegment, instructionPointer, dataSegment, stackSegment, stackPointer uint16) error
}

// Collaborator bundles the three seams the bzImage loader needs during
// handoff (spec §4.7's "notify external shutdown capability, then
// transfer control").
type Collaborator interface {
	MemoryMap
	Notifier
	KernelJump
}

// Unsupported is a Collaborator that refuses every operation, for
// platforms or tests with no real hardware seam wired in.
type Unsupported struct{}

func (Unsupported) Regions() ([]Region, error) {
	return nil, errcode.New(errcode.NotSupported, "platform: no memory map collaborator configured")
}

func (Unsupported) ShutdownBoot() error {
	return errcode.New(errcode.NotSupported, "platform: no shutdown-notifier collaborator configured")
}

func (Unsupported) JumpToKernel(uint16, uint16, uint16, uint16, uint16) error {
	return errcode.New(errcode.NotSupported, "platform: no kernel-jump collaborator configured")
}
