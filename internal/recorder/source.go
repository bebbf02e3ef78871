package recorder

import (
	"io"
	"os"
)

// source is an open serial endpoint.
type source struct {
	io.ReadCloser
	// follow is set for regular files: EOF means "no data yet", not a
	// disconnect.
	follow bool
	kind   string
}

// openSource opens port according to its file type. Regular files are
// followed like a log, FIFOs are read as streams, and character devices
// are configured as a raw serial line at baud.
func openSource(port string, baud int) (*source, error) {
	info, err := os.Stat(port)
	if err != nil {
		return nil, err
	}
	mode := info.Mode()
	switch {
	case mode.IsRegular():
		f, err := os.Open(port)
		if err != nil {
			return nil, err
		}
		return &source{ReadCloser: f, follow: true, kind: "file"}, nil
	case mode&os.ModeNamedPipe != 0:
		f, err := openFIFO(port)
		if err != nil {
			return nil, err
		}
		return &source{ReadCloser: f, kind: "fifo"}, nil
	case mode&os.ModeCharDevice != 0:
		f, err := openSerial(port, baud)
		if err != nil {
			return nil, err
		}
		return &source{ReadCloser: f, kind: "tty"}, nil
	}
	return nil, &os.PathError{Op: "open", Path: port, Err: os.ErrInvalid}
}
