// Package transport provides the default HCI Device used by cmd/advpmd: a
// raw AF_BLUETOOTH/BTPROTO_HCI socket bound to a user channel. This is the
// external "HCI transport" collaborator spec.md 1 explicitly puts out of
// scope for the core; it exists only so the demo entrypoint has something
// real to hand the dispatcher.
//
// Grounded on the teacher's linux/internal/socket/socket.go and
// linux/internal/device/device.go, which implemented the same raw socket
// by hand against the stdlib syscall package (not yet wrapped by the Go
// standard library). This version uses golang.org/x/sys/unix in place of
// syscall, the idiomatic modern replacement, matching the dependency
// surface named in robolivable-beaves's go.mod.
package transport

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	afBluetooth  = 31 // linux AF_BLUETOOTH
	btprotoHCI   = 1
	hciChannelUser = 1
)

type rawSockaddrHCI struct {
	Family  uint16
	Dev     uint16
	Channel uint16
}

// Device is the raw-socket implementation of the HCI transport. It
// satisfies io.ReadWriteCloser, the same shape the teacher's HCI.d field
// used.
type Device struct {
	fd  int
	rmu sync.Mutex
	wmu sync.Mutex
}

// Open binds a raw HCI user-channel socket to the given controller index,
// mirroring socket.Socket + socket.Bind in the teacher's package.
func Open(devID int) (*Device, error) {
	fd, err := unix.Socket(afBluetooth, unix.SOCK_RAW, btprotoHCI)
	if err != nil {
		return nil, err
	}
	sa := rawSockaddrHCI{Family: afBluetooth, Dev: uint16(devID), Channel: hciChannelUser}
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if errno != 0 {
		unix.Close(fd)
		return nil, errno
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Read(b []byte) (int, error) {
	d.rmu.Lock()
	defer d.rmu.Unlock()
	return unix.Read(d.fd, b)
}

func (d *Device) Write(b []byte) (int, error) {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	return unix.Write(d.fd, b)
}

func (d *Device) Close() error {
	return unix.Close(d.fd)
}
