package processtest

import "stacksnap/process"

// Sample returns a small backend with an idle process, one process whose
// main thread walks into the kernel and one thread that cannot be opened.
func Sample() *Backend {
	const kernel = process.Address(0xFFFFF80000001000)

	b := &Backend{
		Processes: []Process{
			{
				PID:  process.IdleProcessID,
				Name: process.IdleProcessName,
				Threads: []Thread{
					{TID: 0, NoAccess: true},
				},
			},
			{
				PID:   100,
				PPID:  1,
				Name:  "app",
				Image: process.ImageInfo{Path: "/usr/bin/app", Machine: process.MachineAMD64},
				Threads: []Thread{
					{
						TID:          101,
						StartAddress: 0x401000,
						Frames: []process.StackFrame{
							{PC: kernel, Stack: 0xFFFF800000100000, Machine: process.MachineAMD64, Flags: process.FrameKernel},
							{PC: 0x401200, Return: 0x401100, Stack: 0x7FFE0000, Frame: 0x7FFE0040, Params: [4]process.Address{1, 2, 3, 4}, Machine: process.MachineAMD64},
							{PC: 0x401100, Return: 0x401010, Stack: 0x7FFE0080, Machine: process.MachineAMD64, Flags: process.FrameNoUnwindInfo},
						},
					},
					{
						TID:          102,
						StartAddress: 0x402000,
						Name:         "worker",
						BestAccess:   process.AccessQuery,
						Frames: []process.StackFrame{
							{PC: 0x402100, Stack: 0x7FFD0000, Machine: process.MachineAMD64},
						},
					},
					{TID: 103, NoAccess: true},
				},
			},
		},
		Symbols: map[process.Address]process.Symbol{
			kernel:   {Name: "vmlinux!schedule+0x10", FileName: "vmlinux"},
			0x401000: {Name: "app!main", FileName: "/usr/bin/app"},
			0x401200: {Name: "app!wait_input+0x20", FileName: "/usr/bin/app", LineFile: "input.c", Line: 42},
			0x401100: {Name: "app!main+0x100", FileName: "/usr/bin/app", LineFile: "main.c", Line: 7},
			0x402000: {Name: "app!worker_main", FileName: "/usr/bin/app"},
			0x402100: {Name: "app!worker_main+0x100", FileName: "/usr/bin/app"},
		},
	}
	return b
}
