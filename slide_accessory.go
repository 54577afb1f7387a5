package slidekit

import (
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
)

// SlideCover presents one slide to HomeKit as a window covering:
// fully open is extended, fully closed is retracted.
type SlideCover struct {
	*accessory.A
	WindowCovering *service.WindowCovering
}

func NewSlideCover(info accessory.Info) *SlideCover {
	acc := SlideCover{}
	acc.A = accessory.New(info, accessory.TypeWindowCovering)
	acc.WindowCovering = service.NewWindowCovering()

	acc.AddS(acc.WindowCovering.S)
	return &acc
}
