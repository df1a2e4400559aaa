// Command proxy runs the adaptive routing proxy: the Decision Service, the
// reverse-proxy dispatcher, the Algorithm Switchboard, and the Health
// Prober, wired together by the serve subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/Pranshu258/rl-proxy/cmd/proxy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
