//go:build rp2040

// Firmware entrypoint for the Pico environment monitor: config, HAL with
// the BME280 on i2c0, UART bridge uplink and heartbeat, all on one bus.
package main

import (
	"context"
	"runtime"
	"time"

	"envsense-go/bus"
	"envsense-go/services/bridge"
	"envsense-go/services/config"
	"envsense-go/services/hal"
	"envsense-go/services/hal/platform"
	"envsense-go/services/heartbeat"
)

// printTopic prints a bus topic with builtin println (no fmt on TinyGo).
func printTopic(prefix string, t bus.Topic) {
	print(prefix)
	print(" ")
	for i, tok := range t {
		if i > 0 {
			print("/")
		}
		switch v := tok.(type) {
		case string:
			print(v)
		case int:
			print(v)
		case int32:
			print(int(v))
		case int64:
			print(int(v))
		default:
			print("?")
		}
	}
	println()
}

func main() {
	time.Sleep(3 * time.Second) // let the USB console attach
	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, "pico")

	println("[main] bootstrapping bus ...")
	b := bus.NewBus(4)

	monConn := b.NewConnection("monitor")
	mon := monConn.Subscribe(bus.T("hal", "#"))
	go func() {
		for m := range mon.Channel() {
			printTopic("[monitor] <-", m.Topic)
		}
	}()

	buses := platform.NewBuses(400_000)
	bridge.UARTDial = platform.UARTDial

	println("[main] starting services ...")
	go hal.Run(ctx, b.NewConnection("hal"), buses)
	go bridge.Start(ctx, b.NewConnection("bridge"))
	(&heartbeat.Service{}).Start(ctx, b.NewConnection("heartbeat"))

	// Config goes out last so every service sees its retained section.
	config.NewConfigService().Start(ctx, b.NewConnection("config"))

	for {
		printMem()
		time.Sleep(10 * time.Second)
	}
}

// printMem prints a compact snapshot of TinyGo runtime memory stats.
func printMem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	println(
		"[mem]",
		"alloc:", uint32(ms.Alloc),
		"heapInuse:", uint32(ms.HeapInuse),
		"heapSys:", uint32(ms.HeapSys),
		"mallocs:", uint32(ms.Mallocs),
		"frees:", uint32(ms.Frees),
	)
}
