//go:build linux && amd64

package coredump

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// elf_prstatus on x86-64: the pid sits after the signal info and the
// general purpose registers follow the four timevals.
const (
	prstatusPidOffset  = 32
	prstatusRegsOffset = 112
)

func decodePrstatus(desc []byte, order binary.ByteOrder) (threadState, error) {
	var regs unix.PtraceRegs
	if len(desc) < prstatusRegsOffset+binary.Size(regs) {
		return threadState{}, fmt.Errorf("NT_PRSTATUS: %d bytes is too short", len(desc))
	}
	if err := binary.Read(bytes.NewReader(desc[prstatusRegsOffset:]), order, &regs); err != nil {
		return threadState{}, fmt.Errorf("NT_PRSTATUS: %w", err)
	}
	return threadState{
		pid:    order.Uint32(desc[prstatusPidOffset:]),
		pc:     regs.Rip,
		sp:     regs.Rsp,
		fp:     regs.Rbp,
		fsBase: regs.Fs_base,
	}, nil
}
