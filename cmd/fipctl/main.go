// fipctl is a small control tool for DirectOutput panels: list attached
// devices, push an image or LED state to a page, write MFD text, or watch
// device/page/soft-button events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/leenr/directoutput-libusb/pkg/directoutput"
	"github.com/leenr/directoutput-libusb/pkg/driver"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: fipctl <command> [args]

commands:
  list                         list attached devices
  image <page> <file>          display an image file on a page
  led <page> <index> <0|1>     set an LED
  text <page> <line> <value>   write an MFD text line
  watch                        stream device/page/soft-button events
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer stop()

	do, err := driver.Open("fipctl")
	if err != nil {
		fatal(err)
	}
	defer do.Deinitialize()

	switch os.Args[1] {
	case "list":
		err = list(do)
	case "image":
		err = image(do, os.Args[2:])
	case "led":
		err = led(do, os.Args[2:])
	case "text":
		err = text(do, os.Args[2:])
	case "watch":
		err = watch(ctx, do)
	default:
		usage()
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "fipctl: %v\n", err)
	os.Exit(1)
}

// firstDevice returns the first enumerated device.
func firstDevice(do directoutput.Driver) (directoutput.Handle, error) {
	var h directoutput.Handle
	err := do.Enumerate(func(dev directoutput.Handle, _ any) {
		if h == 0 {
			h = dev
		}
	}, nil)
	if err != nil {
		return 0, err
	}
	if h == 0 {
		return 0, fmt.Errorf("no devices attached")
	}
	return h, nil
}

func list(do directoutput.Driver) error {
	n := 0
	err := do.Enumerate(func(h directoutput.Handle, _ any) {
		n++
		typ, err := do.GetDeviceType(h)
		if err != nil {
			fmt.Printf("%#06x  type: %v\n", uintptr(h), err)
			return
		}
		serial, err := do.GetSerialNumber(h)
		if err != nil {
			serial = fmt.Sprintf("(%v)", err)
		}
		fmt.Printf("%#06x  %s  serial %s\n", uintptr(h), typ, serial)
	}, nil)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("no devices attached")
	}
	return nil
}

func image(do directoutput.Driver, args []string) error {
	if len(args) != 2 {
		usage()
	}
	page, err := parseU32(args[0])
	if err != nil {
		return err
	}
	h, err := firstDevice(do)
	if err != nil {
		return err
	}
	if err := do.AddPage(h, page, "fipctl", directoutput.FlagSetAsActive); err != nil {
		return err
	}
	return do.SetImageFromFile(h, page, 0, args[1])
}

func led(do directoutput.Driver, args []string) error {
	if len(args) != 3 {
		usage()
	}
	page, err := parseU32(args[0])
	if err != nil {
		return err
	}
	index, err := parseU32(args[1])
	if err != nil {
		return err
	}
	value, err := parseU32(args[2])
	if err != nil {
		return err
	}
	h, err := firstDevice(do)
	if err != nil {
		return err
	}
	return do.SetLed(h, page, index, value)
}

func text(do directoutput.Driver, args []string) error {
	if len(args) != 3 {
		usage()
	}
	page, err := parseU32(args[0])
	if err != nil {
		return err
	}
	line, err := parseU32(args[1])
	if err != nil {
		return err
	}
	h, err := firstDevice(do)
	if err != nil {
		return err
	}
	return do.SetString(h, page, line, args[2])
}

func watch(ctx context.Context, do directoutput.Driver) error {
	err := do.RegisterDeviceCallback(func(h directoutput.Handle, added bool, _ any) {
		if added {
			fmt.Printf("device %#06x attached\n", uintptr(h))
			watchDevice(do, h)
		} else {
			fmt.Printf("device %#06x detached\n", uintptr(h))
		}
	}, nil)
	if err != nil {
		return err
	}

	err = do.Enumerate(func(h directoutput.Handle, _ any) {
		fmt.Printf("device %#06x present\n", uintptr(h))
		watchDevice(do, h)
	}, nil)
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func watchDevice(do directoutput.Driver, h directoutput.Handle) {
	err := do.RegisterSoftButtonCallback(h, func(h directoutput.Handle, buttons uint32, _ any) {
		fmt.Printf("device %#06x buttons %#010x\n", uintptr(h), buttons)
	}, nil)
	if err != nil {
		fmt.Printf("device %#06x soft buttons: %v\n", uintptr(h), err)
	}
	err = do.RegisterPageCallback(h, func(h directoutput.Handle, page uint32, active bool, _ any) {
		fmt.Printf("device %#06x page %d active=%v\n", uintptr(h), page, active)
	}, nil)
	if err != nil {
		fmt.Printf("device %#06x pages: %v\n", uintptr(h), err)
	}
}

func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", s, err)
	}
	return uint32(v), nil
}
