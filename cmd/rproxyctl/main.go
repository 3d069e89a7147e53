/*
This command manages the route table of a running or stopped rproxy
instance:

	rproxyctl add <host> <backend>
	rproxyctl remove <host>
	rproxyctl list
	rproxyctl cert <domain>
	rproxyctl version

A running daemon looks the route table up per request, so route
changes take effect for routing at once; on SIGHUP it adjusts its
health checks to the new set of backends. The cert command issues a certificate with certbot in webroot
mode, using the ACME challenge directory the daemon serves from, and
links the result under the certificate paths of the daemon.
*/
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/zalando/rproxy"
)

type commandFunc func(args []string) error

var commands = map[string]commandFunc{
	"add":     addCmd,
	"remove":  removeCmd,
	"list":    listCmd,
	"cert":    certCmd,
	"version": versionCmd,
}

var (
	errMissingCommand = errors.New("missing command")
	errInvalidCommand = errors.New("invalid command")

	configRoot string
	dataRoot   string

	version string
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok && version == "" {
		version = info.Main.Version
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: rproxyctl [flags] add|remove|list|cert|version [args]")
	flag.PrintDefaults()
}

func versionCmd([]string) error {
	fmt.Println("rproxyctl version", version)
	return nil
}

func main() {
	flag.Usage = usage
	flag.StringVar(&configRoot, "config-root", rproxy.DefaultConfigRoot, "directory of the route database")
	flag.StringVar(&dataRoot, "data-root", rproxy.DefaultDataRoot, "directory of the TLS material and ACME challenges")
	flag.Parse()

	if dir := os.Getenv("RPROXY_DATA_DIR"); dir != "" {
		dataRoot = dir
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		exit(errMissingCommand)
	}

	cmd, ok := commands[args[0]]
	if !ok {
		usage()
		exit(fmt.Errorf("%w: %s", errInvalidCommand, args[0]))
	}

	exit(cmd(args[1:]))
}

func exit(err error) {
	if err == nil {
		os.Exit(0)
	}

	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
