/*
This command provides the executable rproxy daemon.

For the list of command line options, run:

	rproxy -help

Routes are managed with the rproxyctl command while the daemon is
running and take effect at once; send SIGHUP to update the health
checks and reload the TLS key pair without dropping connections.
*/
package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/rproxy"
	"github.com/zalando/rproxy/config"
)

var (
	version string
	commit  string
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		if version == "" {
			version = info.Main.Version
		}
		if commit == "" {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					commit = setting.Value[:min(8, len(setting.Value))]
					break
				}
			}
		}
	}
}

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	if cfg.PrintVersion {
		fmt.Printf("rproxy version %s (", version)
		if commit != "" {
			fmt.Printf("commit: %s, ", commit)
		}
		fmt.Printf("runtime: %s)\n", runtime.Version())
		return
	}

	log.SetLevel(cfg.ApplicationLogLevel)
	if err := rproxy.Run(cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
