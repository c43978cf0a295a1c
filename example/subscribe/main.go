// Command subscribe connects to the telemetry listener and prints every
// frame it receives, starting with the snapshot replay.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"

	aquaregulator "github.com/doukyrie/AquaRegulator-server"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5555", "Telemetry listener address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	for {
		frame, err := aquaregulator.DecodeFrame(conn)
		if err != nil {
			log.Fatalf("read frame: %v", err)
		}
		kind := "incremental"
		if frame.Snapshot {
			kind = "snapshot"
		}
		fmt.Printf("%s %s %s: %d readings\n",
			frame.CorrelationID, frame.Channel.Token(), kind, len(frame.Readings))
		for _, r := range frame.Readings {
			fmt.Printf("  [%s] %s temp=%.2f hum=%.2f light=%.2f soil=%.2f gas=%.2f rain=%.2f\n",
				r.Label, r.Timestamp, r.Temperature, r.Humidity, r.Light, r.Soil, r.Gas, r.Raindrop)
		}
	}
}
