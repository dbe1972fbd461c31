// Tether drives a long-lived worker process through multi-turn streamed
// conversations from the terminal.
package main

func main() {
	Execute()
}
