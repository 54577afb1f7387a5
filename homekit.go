package slidekit

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"os/signal"
	"syscall"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/pkg/errors"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "slidekit"

// HomeKit position state values
const (
	hkPositionClosing = 0
	hkPositionOpening = 1
	hkPositionStopped = 2
)

func slideUniqueId(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte("slidekit:slide:" + name))
	return h.Sum64()
}

// GetHk builds the HomeKit accessory for this slide. A remote target
// update of 50 or more extends, below 50 retracts; moves run off the
// HomeKit callback goroutine since they block until confirmation.
func (sl *Slide) GetHk() *accessory.A {
	info := accessory.Info{
		Name:         sl.Name,
		SerialNumber: fmt.Sprintf("slide:%s:%s", sl.Output.Device, sl.Output.Pin),
	}
	hk := NewSlideCover(info)
	hk.Id = slideUniqueId(sl.Name)

	hk.WindowCovering.TargetPosition.OnValueRemoteUpdate(func(target int) {
		go func() {
			err := sl.MoveTo(target >= 50)
			if err != nil {
				sl.logger.Error("HomeKit commanded move failed", "err", err)
			}
		}()
	})

	// the event pump may call syncHk concurrently with accessory setup
	sl.mu.Lock()
	sl.hk = hk
	sl.mu.Unlock()

	sl.syncHk(sl.Position())
	return hk.A
}

func (sl *Slide) syncHk(position SlidePosition) {
	sl.mu.Lock()
	hk := sl.hk
	sl.mu.Unlock()
	if hk == nil {
		return
	}

	switch position {
	case PositionExtended:
		hk.WindowCovering.CurrentPosition.SetValue(100)
		hk.WindowCovering.PositionState.SetValue(hkPositionStopped)
	case PositionRetracted:
		hk.WindowCovering.CurrentPosition.SetValue(0)
		hk.WindowCovering.PositionState.SetValue(hkPositionStopped)
	case PositionMoving:
		state := hkPositionClosing
		if hk.WindowCovering.TargetPosition.Value() >= 50 {
			state = hkPositionOpening
		}
		hk.WindowCovering.PositionState.SetValue(state)
	default:
		hk.WindowCovering.PositionState.SetValue(hkPositionStopped)
	}
}

func (sk *SlideKit) updateHkPosition(name string, position SlidePosition) {
	slide, err := sk.slides.Get(name)
	if err != nil {
		return
	}
	slide.syncHk(position)
}

// GetHkAccessories returns one window-covering accessory per slide.
func (sk *SlideKit) GetHkAccessories(firmwareVersion string) (acc []*accessory.A) {
	acc = []*accessory.A{}

	for _, slide := range sk.slides.All() {
		accessory := slide.GetHk()
		if accessory.Info != nil && accessory.Info.FirmwareRevision != nil {
			accessory.Info.FirmwareRevision.SetValue(firmwareVersion)
		}
		acc = append(acc, accessory)
	}

	return
}

// StartHomeKit serves the bridge until ctx is cancelled or an
// interrupt arrives.
func (sk *SlideKit) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	hkName := sk.Name
	if len(hkName) < 1 {
		hkName = homeKitBridgeName
	}
	bridge := accessory.NewBridge(accessory.Info{
		Name:     hkName,
		Firmware: firmwareVersion,
	})

	var store hap.Store
	if len(sk.HkDirectory) > 1 {
		store = hap.NewFsStore(sk.HkDirectory)
	} else {
		store = hap.NewFsStore(defaultHomeKitDirectory)
	}
	hkServer, err := hap.NewServer(store, bridge.A, sk.GetHkAccessories(firmwareVersion)...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = sk.HkPin
	if len(sk.HkAddress) > 0 {
		hkServer.Addr = sk.HkAddress
	}

	if sk.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-c
		// Stop delivering signals.
		signal.Stop(c)
		// Cancel the context to stop the server.
		cancel()
	}()

	return hkServer.ListenAndServe(ctx)
}
