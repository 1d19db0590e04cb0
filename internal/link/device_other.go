//go:build !darwin && !linux

package link

import "github.com/go-ble/ble"

func newPlatformDevice() (ble.Device, error) {
	return nil, ErrUnsupported
}
