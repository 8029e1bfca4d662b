package main

import (
	"fmt"
	"os"

	"github.com/payvex/payvex/cmd/payvex/query"
	"github.com/payvex/payvex/cmd/payvex/serve"
	"github.com/payvex/payvex/cmd/payvex/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serve.Run(os.Args[2:])
	case "query":
		query.Run(os.Args[2:])
	case "version":
		version.Run()
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`payvex - CMS query core and backend

Usage:
  payvex <command> [options]

Commands:
  serve     Start the backend serving remote-mode calls
  query     Run a query against a backend or a snapshot
  version   Print version information
  help      Show this help message

Run 'payvex <command> --help' for more information on a command.`)
}
