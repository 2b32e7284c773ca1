//go:build linux

package keyboard

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	evKey       = 0x01
	nameBufSize = 256
)

// inputEvent mirrors struct input_event from linux/input.h.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// Run starts one reader per device and forwards their events to out. Readers
// that fail (unplug, permission) are dropped and retried on the next rescan.
func (d *Devices) Run(ctx context.Context, out chan<- KeyEvent) error {
	interval := d.Rescan
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := d.clock().NewTicker(interval)
	defer ticker.Stop()

	readers := make(map[string]context.CancelFunc)
	exited := make(chan string, 8)
	defer func() {
		for _, cancel := range readers {
			cancel()
		}
	}()

	scan := func() {
		for _, path := range d.candidates() {
			if _, ok := readers[path]; ok {
				continue
			}
			rctx, cancel := context.WithCancel(ctx)
			readers[path] = cancel
			go func(path string) {
				err := d.read(rctx, path, out)
				if err != nil && !errors.Is(err, context.Canceled) {
					d.logger().Warn("keyboard reader stopped", "device", path, "error", err)
				}
				select {
				case exited <- path:
				case <-ctx.Done():
				}
			}(path)
		}
	}

	scan()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path := <-exited:
			if cancel, ok := readers[path]; ok {
				cancel()
				delete(readers, path)
			}
		case <-ticker.C:
			scan()
		}
	}
}

func (d *Devices) read(ctx context.Context, path string, out chan<- KeyEvent) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	go func() {
		<-ctx.Done()
		f.Close()
	}()

	d.logger().Info("keyboard attached", "device", path, "name", deviceName(f))

	for {
		var ev inputEvent
		if err := binary.Read(f, binary.NativeEndian, &ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("read %s: device closed", path)
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		if ev.Type != evKey {
			continue
		}
		sec, nsec := ev.Time.Unix()
		ke := KeyEvent{
			Key:        Key(ev.Code),
			Transition: Transition(ev.Value),
			Time:       time.Unix(sec, nsec),
			Device:     path,
		}
		select {
		case out <- ke:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// deviceName asks the kernel for the device's human readable name
// (EVIOCGNAME). Failure is not an error; the name is only logged.
// The ioctl goes through SyscallConn: f.Fd would put the descriptor in
// blocking mode and Close could no longer interrupt a pending read.
func deviceName(f *os.File) string {
	rc, err := f.SyscallConn()
	if err != nil {
		return ""
	}
	var buf [nameBufSize]byte
	req := uintptr(2<<30 | nameBufSize<<16 | 'E'<<8 | 0x06)
	var errno unix.Errno
	err = rc.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(unsafe.Pointer(&buf[0])))
	})
	if err != nil || errno != 0 {
		return ""
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}
