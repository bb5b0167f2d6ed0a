// Command fsald runs the FSAL daemon: it loads configuration, indexes
// the configured base paths, and serves catalog queries and mutations
// over a local stream socket until terminated.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Outernet-Project/fsal"
	"github.com/Outernet-Project/fsal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if cfg.PIDFile != "" {
		if err := writePIDFile(cfg.PIDFile); err != nil {
			log.Printf("fsald: writing pidfile: %v", err)
			return 1
		}
		defer cleanupPIDFile(cfg.PIDFile)
	}

	manager, err := fsal.NewManager(cfg)
	if err != nil {
		log.Printf("fsald: %v", err)
		return 1
	}
	defer manager.Stop()

	if err := manager.Start(); err != nil {
		log.Printf("fsald: starting: %v", err)
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Printf("fsald: received %s, shutting down", s)
	return 0
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func cleanupPIDFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("fsald: pidfile cleanup failed: %v", err)
	}
}
