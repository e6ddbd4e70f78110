//go:build !linux || !amd64

package coredump

import (
	"encoding/binary"
	"errors"
)

func decodePrstatus(desc []byte, order binary.ByteOrder) (threadState, error) {
	return threadState{}, errors.New("NT_PRSTATUS decoding requires linux/amd64")
}
