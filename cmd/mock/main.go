package main

import (
	"context"
	"log"
	"os"
	"time"

	"slidekit"
	"slidekit/boards"
)

var (
	Version string
	Build   string
)

// A self-contained demo instance: one fake 16-pin board, one slide,
// and a goroutine playing the part of the cylinder so moves confirm.
func main() {
	log.Println("slidekit started")
	log.Println("mock instance for testing purposes, no hardware needed")

	fake := &boards.MockLink{InitialInputs: 1 << 1} // retracted sensor high

	sk := &slidekit.SlideKit{
		Name: "slidekit-mock",
		Boards: []*slidekit.DeviceConfig{
			{
				Name:     "IOBottom",
				Capacity: 16,
				Inputs:   map[string]uint16{"S1": 0, "S2": 1},
				Outputs:  map[string]uint16{"ExtendValve": 3},
				Fake:     fake,
			},
		},
		Slides: []*slidekit.Slide{
			{
				Name:           "InfeedSlide",
				Output:         slidekit.PinRef{Device: "IOBottom", Pin: "ExtendValve"},
				ExtendedInput:  slidekit.PinRef{Device: "IOBottom", Pin: "S1"},
				RetractedInput: slidekit.PinRef{Device: "IOBottom", Pin: "S2"},
				TimeoutMs:      2000,
			},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := sk.InitDevices()
	if err != nil {
		panic(err)
	}
	defer sk.Close()

	err = sk.ConnectAll(ctx)
	if err != nil {
		panic(err)
	}

	err = sk.InitSlides()
	if err != nil {
		panic(err)
	}

	sk.PrintIoStatus(os.Stdout)

	go sk.ServeEvents(ctx)
	go playCylinder(fake)

	slide, err := sk.SlideRegistry().Get("InfeedSlide")
	if err != nil {
		panic(err)
	}

	for {
		log.Println("extending...")
		err = slide.Extend()
		log.Printf("extend done (err: %v), position: %s\n", err, slide.Position())
		time.Sleep(2 * time.Second)

		log.Println("retracting...")
		err = slide.Retract()
		log.Printf("retract done (err: %v), position: %s\n", err, slide.Position())
		time.Sleep(2 * time.Second)
	}
}

// playCylinder mirrors the valve output back onto the end sensors
// with a short travel delay, like the real mechanics would.
func playCylinder(fake *boards.MockLink) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	extendValve := boards.Cap16.OutputBit(3)
	for range ticker.C {
		if fake.Outputs()&extendValve != 0 {
			time.Sleep(300 * time.Millisecond)
			fake.SetInputs(1 << 0) // S1: extended
		} else {
			time.Sleep(300 * time.Millisecond)
			fake.SetInputs(1 << 1) // S2: retracted
		}
	}
}
