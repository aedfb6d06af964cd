// Package main provides the systolic engine CLI.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/tebeka/atexit"
)

const version = "v0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		atexit.Exit(2)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "version":
		fmt.Printf("systolic %s\n", version)
		return
	case "run":
		err = runCmd(os.Args[2:])
	case "bench":
		err = benchCmd(os.Args[2:])
	case "image":
		err = imageCmd(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		atexit.Exit(2)
	}

	if err != nil {
		// log.Fatal would skip the device shutdown hooks.
		log.Printf("systolic %s: %v", os.Args[1], err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func usage() {
	fmt.Println("systolic - distributed matrix multiply on systolic arrays")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  run      Evaluate a feed-forward network from a weights file")
	fmt.Println("  bench    Time a random feed-forward network (batch 32, 1024-512-512-10)")
	fmt.Println("  image    Write a configuration image")
	fmt.Println("  version  Show version")
	fmt.Println("")
	fmt.Println("Run 'systolic <command> -h' for command flags.")
}
