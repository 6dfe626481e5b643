// Package devices enumerates USB logic-analyzer capture devices attached to
// the host via udev, so a caller can pick one before opening a live
// gpio.LiveSource or a vendor-specific capture driver.
package devices

import (
	"context"

	"github.com/jochenvg/go-udev"
	"github.com/pkg/errors"
)

// Info describes one attached capture device, with identity fields read
// from udev. Nothing in this package copies them into a CaptureSession.
type Info struct {
	SysPath      string
	VendorID     string
	ProductID    string
	Serial       string
	DeviceNode   string
}

// List enumerates USB devices currently attached, filtered to subsystem
// "usb" with a device node (i.e. excludes USB hub/interface nodes that
// carry no /dev entry).
func List() ([]Info, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()
	if err := e.AddMatchSubsystem("usb"); err != nil {
		return nil, errors.Wrap(err, "devices: filtering by subsystem")
	}
	devs, err := e.Devices()
	if err != nil {
		return nil, errors.Wrap(err, "devices: enumerating")
	}
	var out []Info
	for _, d := range devs {
		if d.Devnode() == "" {
			continue
		}
		out = append(out, Info{
			SysPath:    d.Syspath(),
			VendorID:   d.PropertyValue("ID_VENDOR_ID"),
			ProductID:  d.PropertyValue("ID_MODEL_ID"),
			Serial:     d.PropertyValue("ID_SERIAL_SHORT"),
			DeviceNode: d.Devnode(),
		})
	}
	return out, nil
}

// WatchFunc is called once per USB device add/remove event observed by
// Watch.
type WatchFunc func(action string, info Info)

// Watch streams USB attach/detach events to fn until ctx is cancelled.
func Watch(ctx context.Context, fn WatchFunc) error {
	u := udev.Udev{}
	m := u.NewMonitorFromNetlink("udev")
	if err := m.FilterAddMatchSubsystem("usb"); err != nil {
		return errors.Wrap(err, "devices: filtering monitor")
	}
	ch, done, err := m.DeviceChan(ctx)
	if err != nil {
		return errors.Wrap(err, "devices: starting monitor")
	}
	defer done()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-ch:
			if !ok {
				return nil
			}
			fn(d.Action(), Info{
				SysPath:    d.Syspath(),
				VendorID:   d.PropertyValue("ID_VENDOR_ID"),
				ProductID:  d.PropertyValue("ID_MODEL_ID"),
				Serial:     d.PropertyValue("ID_SERIAL_SHORT"),
				DeviceNode: d.Devnode(),
			})
		}
	}
}
