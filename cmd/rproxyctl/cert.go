package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/zalando/rproxy/acme"
	"github.com/zalando/rproxy/certs"
)

// certCmd issues a certificate for a domain with certbot in webroot
// mode. The webroot is the ACME challenge directory the daemon serves
// with priority over routing, so issuance works while the proxy is
// live on port 80. The resulting key pair is linked under the paths
// the daemon loads on startup. A daemon already serving TLS re-reads
// them on SIGHUP; one started without a key pair does not start its TLS
// listener on SIGHUP and picks them up only on restart.
func certCmd(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rproxyctl cert <domain>")
	}

	domain := args[0]
	webroot := acme.ChallengeRoot(dataRoot)
	if err := os.MkdirAll(webroot, 0o755); err != nil {
		return err
	}

	cmd := exec.Command("certbot", "certonly",
		"--webroot", "--webroot-path", webroot,
		"--domain", domain,
		"--non-interactive", "--agree-tos", "--keep-until-expiring",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("certbot: %w", err)
	}

	live := filepath.Join("/etc/letsencrypt/live", domain)
	paths := certs.DefaultPaths(dataRoot)
	if err := os.MkdirAll(filepath.Dir(paths.Key), 0o755); err != nil {
		return err
	}

	for target, link := range map[string]string{
		filepath.Join(live, "privkey.pem"):   paths.Key,
		filepath.Join(live, "fullchain.pem"): paths.Chain,
	} {
		if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
			return err
		}

		if err := os.Symlink(target, link); err != nil {
			return err
		}
	}

	fmt.Printf("certificate for %s installed under %s\n", domain, filepath.Dir(paths.Key))
	fmt.Println("send SIGHUP to a running rproxy serving TLS to apply, restart one serving HTTP only")
	return nil
}
