package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/sbl8/flatparam/model"
)

func main() {
	var (
		verbose = flag.Bool("verbose", false, "Print a payload preview per entry")
		preview = flag.Int("preview", 16, "Preview length in bytes with -verbose")
		version = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Println("fpdump - flatparam snapshot inspector v1.0.0")
		fmt.Printf("Built with Go %s\n", runtime.Version())
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <snapshot.fprm>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	sd, err := model.LoadStateDictFile(args[0])
	if err != nil {
		log.Fatalf("Failed to load snapshot: %v", err)
	}

	total := 0
	keys := sd.Keys()
	for _, k := range keys {
		total += len(sd[k])
	}
	fmt.Printf("%s: %d entries, %d payload bytes\n", args[0], len(keys), total)

	for _, k := range keys {
		data := sd[k]
		fmt.Printf("  %-48s %8d bytes\n", k, len(data))
		if *verbose {
			n := *preview
			if n > len(data) {
				n = len(data)
			}
			fmt.Printf("    % x\n", data[:n])
		}
	}
}
