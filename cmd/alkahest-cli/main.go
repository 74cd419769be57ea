package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "oracle":
		return runOracleCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return `Usage: alkahest-cli <command> [arguments]

Commands:
  oracle   Arbitrate, request and inspect TrustedOracleArbiter decisions

Profile: ~/.alkahest/config.toml (override with --config), ALKAHEST_RPC_URL, ALKAHEST_PRIVATE_KEY`
}
