// Command loadtest drives supportd with simulated customers and agents.
//
//	loadtest saturate  opens N idle connections and holds them
//	loadtest chat      runs full ticket conversations between customer/agent pairs
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test: opens N idle connections")
	fmt.Println("  chat        Ticket conversation test: create, join, exchange messages, close")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
