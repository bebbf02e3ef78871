//go:build !linux

package recorder

import (
	"errors"
	"os"
)

func openFIFO(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}

func openSerial(path string, baud int) (*os.File, error) {
	return nil, errors.New("serial devices are only supported on linux")
}
