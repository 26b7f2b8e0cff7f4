package gpio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux GPIO character-device v1 ABI (linux/gpio.h), reproduced minimally:
// only the handle-request ioctl this package needs.
const (
	gpioMaxNameSize        = 32
	gpioHandlesMax         = 64
	gpiohandleRequestOutput = 1 << 1

	// _IOWR(0xB4, 0x03, struct gpiohandle_request)
	gpioGetLineHandleIoctl = 0xc16cb403
)

type gpiohandleRequest struct {
	lineOffsets  [gpioHandlesMax]uint32
	flags        uint32
	defaultValues [gpioHandlesMax]uint8
	consumerLabel [gpioMaxNameSize]byte
	lines        uint32
	fd           int32
}

// LineRequester reserves GPIO lines on a real /dev/gpiochipN character
// device as output lines, for the trigger-limit lines
// Pool.Reserve/Free only book-keep in-process. Best-effort: every
// method returns an error the caller is expected to log, not treat as
// fatal, mirroring how the rest of this package treats hardware access
// as advisory until a reading or trigger actually depends on it.
type LineRequester struct {
	chipPath string
	consumer string
}

func NewLineRequester(chipPath, consumer string) *LineRequester {
	return &LineRequester{chipPath: chipPath, consumer: consumer}
}

// RequestOutput opens the chip and requests a single line as an output,
// returning the line handle's own fd. The caller closes it via
// unix.Close when the line is freed.
func (r *LineRequester) RequestOutput(lineOffset int, initialValue uint8) (int, error) {
	chipFd, err := unix.Open(r.chipPath, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("gpio: open %s: %w", r.chipPath, err)
	}
	defer unix.Close(chipFd)

	var req gpiohandleRequest
	req.lineOffsets[0] = uint32(lineOffset)
	req.flags = gpiohandleRequestOutput
	req.defaultValues[0] = initialValue
	req.lines = 1
	copy(req.consumerLabel[:], r.consumer)

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(chipFd), uintptr(gpioGetLineHandleIoctl), uintptr(unsafe.Pointer(&req))); errno != 0 {
		return -1, fmt.Errorf("gpio: request line %d on %s: %w", lineOffset, r.chipPath, errno)
	}
	return int(req.fd), nil
}
