// Command uvm runs the user-space demand-paged virtual memory kernel as
// a standalone process: it wires up a system.System from flags, starts
// the background workers, and drives a small REPL the way biscuit's own
// main.go starts the kernel and then waits on its init process.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/biscuit-vm/uvm/internal/config"
	"github.com/biscuit-vm/uvm/internal/system"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "uvm:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()

	flag.IntVar(&cfg.PhysicalFrames, "frames", cfg.PhysicalFrames, "physical frame count")
	flag.IntVar(&cfg.PagefileSlots, "pagefile-slots", cfg.PagefileSlots, "pagefile slot count")
	flag.IntVar(&cfg.VMMultiplier, "vm-multiplier", cfg.VMMultiplier, "VA range = frames * this")
	flag.IntVar(&cfg.NumThreads, "threads", cfg.NumThreads, "thread count used to size the scratch-VA pool (one worker per role is started regardless)")
	flag.IntVar(&cfg.PagesPerLock, "pages-per-lock", cfg.PagesPerLock, "PTE stripe width")
	flag.IntVar(&cfg.MinAvailable, "min-available", cfg.MinAvailable, "low-water mark for trimming")
	vadMode := flag.String("vad-mode", cfg.VadMode.String(), "commit, reserve, or mixed")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug prints and the PTE change log")
	flag.Parse()

	mode, err := config.ParseVadMode(*vadMode)
	if err != nil {
		return err
	}
	cfg.VadMode = mode

	if err := requestAllocatorPrivilege(); err != nil {
		return fmt.Errorf("privilege handshake: %w", err)
	}

	sys, err := system.New(cfg)
	if err != nil {
		return fmt.Errorf("starting system: %w", err)
	}
	sys.Start()
	defer sys.Shutdown()

	if cfg.Verbose {
		sys.Printer.Fprintf(os.Stdout, "uvm: %d frames, %d pagefile slots, %d VA pages\n",
			cfg.PhysicalFrames, cfg.PagefileSlots, cfg.VAPages())
	}

	return repl(sys, cfg.Verbose)
}

// requestAllocatorPrivilege is the privilege handshake spec §6 names as a
// possible startup requirement for the host allocator. memfd_create and
// mmap need no elevated privilege on Linux, so this is a no-op placeholder
// kept as the seam a future host backend (e.g. one needing CAP_SYS_ADMIN
// for huge pages) would hook into.
func requestAllocatorPrivilege() error { return nil }

// repl implements spec §6's CLI surface: q/f begins termination, b toggles
// debug scans when compiled in.
func repl(sys *system.System, verbose bool) error {
	scanEnabled := verbose
	sc := bufio.NewScanner(os.Stdin)
	fmt.Println("uvm ready. q/f to quit, b to toggle debug scans.")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "q", "f":
			return nil
		case "b":
			scanEnabled = !scanEnabled
			fmt.Printf("debug scans: %v\n", scanEnabled)
		case "":
			// ignore blank lines between commands
		default:
			fmt.Printf("unrecognized command %q\n", line)
		}
		if scanEnabled {
			if violations := sys.DebugScan(); len(violations) > 0 {
				for _, v := range violations {
					fmt.Fprintln(os.Stderr, v.String())
				}
			}
		}
	}
	return sc.Err()
}
