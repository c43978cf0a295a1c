package ports

// CommandStream consumes raw inbound bytes from one subscriber connection and
// dispatches every complete newline-terminated command line. Non-empty
// replies are handed to respond, one per line, in order.
type CommandStream interface {
	Feed(connID uint64, chunk []byte, respond func(reply string))

	// Drop discards any buffered partial line for a closed connection.
	Drop(connID uint64)
}
