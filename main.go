// Command logichue turns a smart light red while Logic Pro is recording.
//
// It listens for the recording-indicator note on a MIDI input and drives one
// Hue, LIFX or Elgato light, but only while the configured macOS Focus mode
// is active.
package main

import (
	"fmt"
	"os"

	gomidi "gitlab.com/gomidi/midi/v2"
)

var version = "dev"

func main() {
	code := run(os.Args[1:])
	gomidi.CloseDriver()
	os.Exit(code)
}

type command struct {
	name    string
	summary string
	run     func(args []string) int
}

var commands = []command{
	{"run", "listen for recording events and drive the light (default)", cmdRun},
	{"pair", "pair with a Hue bridge (press its link button first)", cmdPair},
	{"discover", "find Hue bridges or Elgato lights on the network", cmdDiscover},
	{"focus", "print the current Focus mode and whether it opens the gate", cmdFocus},
	{"ports", "list MIDI input ports", cmdPorts},
	{"version", "print the version", cmdVersion},
}

func run(args []string) int {
	if len(args) == 0 || (len(args[0]) > 0 && args[0][0] == '-') {
		return cmdRun(args)
	}

	name, rest := args[0], args[1:]
	if name == "help" || name == "-h" || name == "--help" {
		usage()
		return exitOK
	}
	for _, c := range commands {
		if c.name == name {
			return c.run(rest)
		}
	}

	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
	usage()
	return exitConfig
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: logichue <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nRun \"logichue <command> -h\" for the command's flags.\n\n%s", exitCodeHelp)
}
