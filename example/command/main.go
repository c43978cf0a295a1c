// Command command sends one threshold update over the telemetry listener's
// command plane and prints the reply line.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"

	aquaregulator "github.com/doukyrie/AquaRegulator-server"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5555", "Telemetry listener address")
	soil := flag.Float64("soil", 45.5, "Soil threshold")
	rain := flag.Float64("rain", 12.0, "Rain threshold")
	temp := flag.Float64("temp", 25.0, "Temperature threshold")
	light := flag.Float64("light", 600.0, "Light threshold")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	line := fmt.Sprintf(`{"type":"threshold","soil":%g,"rain":%g,"temp":%g,"light":%g}`,
		*soil, *rain, *temp, *light)
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		log.Fatalf("send command: %v", err)
	}

	// Snapshot frames arrive on the same stream; skip the length-prefixed
	// frames the server pushes on accept, then read the newline reply.
	reader := bufio.NewReader(conn)
	reply, err := readReply(reader)
	if err != nil {
		log.Fatalf("read reply: %v", err)
	}
	fmt.Print(reply)
}

// readReply consumes length-prefixed frames until a newline-delimited reply
// appears. Replies always begin with '{'; a frame's 4-byte length prefix for
// any realistic payload begins with 0x00.
func readReply(r *bufio.Reader) (string, error) {
	for {
		b, err := r.Peek(1)
		if err != nil {
			return "", err
		}
		if b[0] == '{' {
			return r.ReadString('\n')
		}
		if _, err := aquaregulator.DecodeFrame(r); err != nil {
			return "", err
		}
	}
}
