// Command chatctl is the operator CLI for the polyglot chat server.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
