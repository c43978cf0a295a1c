// Command video-publish declares itself a publisher on the video relay and
// streams stdin to it.
package main

import (
	"flag"
	"io"
	"log"
	"net"
	"os"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6000", "Video relay address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ROLE:PUBLISHER")); err != nil {
		log.Fatalf("declare role: %v", err)
	}

	n, err := io.Copy(conn, os.Stdin)
	if err != nil {
		log.Fatalf("stream: %v", err)
	}
	log.Printf("streamed %d bytes", n)
}
