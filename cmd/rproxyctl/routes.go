package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/zalando/rproxy/dataclients/sqlite"
)

func openStore() (*sqlite.Store, error) {
	if err := os.MkdirAll(configRoot, 0o755); err != nil {
		return nil, err
	}

	return sqlite.Open(filepath.Join(configRoot, "config.db"))
}

func addCmd(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: rproxyctl add <host> <backend>")
	}

	store, err := openStore()
	if err != nil {
		return err
	}

	defer store.Close()

	if err := store.Upsert(args[0], args[1]); err != nil {
		return err
	}

	fmt.Printf("route added: %s -> %s\n", args[0], args[1])
	fmt.Println("send SIGHUP to a running rproxy to update its health checks")
	return nil
}

func removeCmd(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rproxyctl remove <host>")
	}

	store, err := openStore()
	if err != nil {
		return err
	}

	defer store.Close()

	if err := store.Delete(args[0]); err != nil {
		return err
	}

	fmt.Printf("route removed: %s\n", args[0])
	return nil
}

func listCmd(args []string) error {
	if len(args) != 0 {
		return errors.New("usage: rproxyctl list")
	}

	store, err := openStore()
	if err != nil {
		return err
	}

	defer store.Close()

	routes, err := store.All()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tBACKEND\tUPDATED")
	for _, r := range routes {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Host, r.Backend, r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	return w.Flush()
}
