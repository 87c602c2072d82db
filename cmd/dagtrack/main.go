package main

import (
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/lukaszgryglicki/dagtrack/internal/dagtrack"
)

func main() {
	dagtrack.DumpBVHs = os.Getenv("DUMP_BVH") != ""
	profile := os.Getenv("PROFILE") != ""
	if profile {
		f, err := os.Create("cpu.out")
		if err != nil {
			panic(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			panic(err)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		}()
	}

	cfg := ""
	if len(os.Args) > 1 {
		cfg = os.Args[1]
	}
	if err := dagtrack.Run(cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		if dagtrack.IsFatal(err) {
			fmt.Println("transport state is not trustworthy, stopping")
		}
		os.Exit(1)
	}
}
