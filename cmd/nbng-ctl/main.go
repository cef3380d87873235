// Command nbng-ctl sends, receives and answers scalability-protocol messages
// from the command line.
package main

func main() {
	Execute()
}
