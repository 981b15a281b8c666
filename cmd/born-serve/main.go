// Package main provides the born-serve model serving CLI.
package main

import (
	"fmt"
	"os"
)

const version = "v0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "infer":
		return runInfer(args[1:])
	case "inspect":
		return runInspect(args[1:])
	case "version":
		fmt.Printf("born-serve %s\n", version)
		return 0
	case "help", "-h", "--help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "born-serve: unknown command %q\n\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Println("born-serve - model serving for the Born ML Framework")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  serve      Serve a model repository over gRPC and HTTP")
	fmt.Println("  infer      Send an inference request to a running server")
	fmt.Println("  inspect    Summarize a model file")
	fmt.Println("  version    Show version")
	fmt.Println("")
	fmt.Println("Run 'born-serve <command> --help' for command flags.")
}
