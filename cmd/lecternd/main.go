// Command lecternd runs the recording pipeline daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"lectern/internal/config"
	"lectern/internal/daemonrun"
)

func main() {
	configFlag := flag.String("config", "", "configuration file path")
	levelFlag := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	cfg, path, created, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if created {
		fmt.Fprintf(os.Stderr, "wrote default configuration to %s\n", path)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *levelFlag}); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Fatalf("lecternd: %v", err)
		}
	}
}
