package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/hubertat/servicemaker"

	"slidekit"
)

var (
	Version string
	Build   string

	config      = flag.String("config", "config.json", "path of the configuration file")
	flagInstall = flag.Bool("install", false, "Install service in os")

	skService = servicemaker.ServiceMaker{
		User:               "slidekit",
		UserGroups:         []string{"gpio", "i2c"},
		ServicePath:        "/etc/systemd/system/slidekit.service",
		ServiceDescription: "slidekit service: pneumatic slide actuator controller over networked I/O boards",
		ExecDir:            "/srv/slidekit",
		ExecName:           "slidekit",
	}
)

func main() {
	log.Printf("slidekit %s started\n", Version)
	flag.Parse()

	if *flagInstall {
		err := skService.InstallService()
		if err != nil {
			panic(err)
		} else {
			log.Println("service installed!")
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sk, err := slidekit.Load(*config)
	if err != nil {
		log.Fatalf("loading config failed: %v\n", err)
	}

	log.Println("will init boards...")
	err = sk.InitDevices()
	if err != nil {
		panic(err)
	}
	defer sk.Close()

	log.Println("will connect boards...")
	err = sk.ConnectAll(ctx)
	if err != nil {
		log.Printf("connecting boards returned error: %v\n we will proceed with what came up...", err)
	}

	log.Println("will init slides...")
	err = sk.InitSlides()
	if err != nil {
		panic(err)
	}

	sk.PrintIoStatus(os.Stdout)

	go sk.ServeEvents(ctx)

	if sk.Status != nil {
		err = sk.Status.Start(sk)
		if err != nil {
			log.Printf("status server failed to start: %v\n", err)
		}
	}

	if len(sk.MqttBroker) > 0 {
		err = sk.InitMqtt()
		if err != nil {
			log.Printf("mqtt init returned error: %v\n we will proceed without broker...", err)
		}
	}

	if len(sk.HkPin) == 8 {
		log.Println("Starting with HomeKit server")
		log.Fatal(sk.StartHomeKit(ctx, Version))
	} else {
		log.Println("HomeKit not configured, disabled")
		<-ctx.Done()
	}
}
