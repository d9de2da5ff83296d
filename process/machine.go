package process

// Machine identifies the architecture of a process image or a stack frame
type Machine uint16

const (
	MachineUnknown Machine = iota
	MachineI386
	MachineAMD64
	MachineARM
	MachineARM64
	MachineARM64EC
	MachineCHPEX86
)

// String returns the short architecture tag shown in the architecture column
func (m Machine) String() string {
	switch m {
	case MachineI386:
		return "x86"
	case MachineAMD64:
		return "x64"
	case MachineARM:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	case MachineARM64EC:
		return "ARM64EC"
	case MachineCHPEX86:
		return "CHPE"
	default:
		return ""
	}
}

// NeedsUnwindInfo reports whether frames of this machine can only be unwound
// reliably with unwind metadata (frame pointer omission is common).
func (m Machine) NeedsUnwindInfo() bool {
	return m == MachineI386 || m == MachineAMD64 || m == MachineCHPEX86
}
