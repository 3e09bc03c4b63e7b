// Command feathersctl talks to a service server over REST or WebSocket, and
// can run an in-memory server for local experiments.
package main

import "os"

// version is set during build with -ldflags
var version = "dev"

func main() {
	os.Exit(execute(os.Args[1:]))
}
