package i2c

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/mklimuk/magmux"
)

// ioctl request that sets the slave address of an i2c-dev file descriptor
const ioctlSlave = 0x0703

var _ magmux.Conn = &DevNode{}

// DevNode talks to a Linux i2c-dev character device directly.
type DevNode struct {
	f *os.File
}

// DevicePath turns a bus index into its i2c-dev path and leaves paths untouched.
func DevicePath(dev string) string {
	if _, err := strconv.Atoi(dev); err == nil {
		return "/dev/i2c-" + dev
	}
	return dev
}

func OpenDevNode(dev string) (*DevNode, error) {
	path := DevicePath(dev)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	return &DevNode{f: f}, nil
}

func (d *DevNode) SelectAddr(ctx context.Context, address byte) error {
	if err := unix.IoctlSetInt(int(d.f.Fd()), ioctlSlave, int(address)); err != nil {
		return fmt.Errorf("ioctl I2C_SLAVE %#x: %w", address, err)
	}
	return nil
}

func (d *DevNode) Write(ctx context.Context, buffer []byte) (int, error) {
	return d.f.Write(buffer)
}

func (d *DevNode) Read(ctx context.Context, buffer []byte) (int, error) {
	return d.f.Read(buffer)
}

func (d *DevNode) Close() error {
	return d.f.Close()
}
