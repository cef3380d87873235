// Command nbng-node opens the sockets described in its configuration file and
// keeps them running until interrupted.
package main

import "os"

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}
