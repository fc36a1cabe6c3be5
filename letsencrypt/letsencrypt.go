package letsencrypt

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"

	"github.com/kaif367/growupquotexapi/host"
	"github.com/kaif367/growupquotexapi/internal"
)

// DNS providers served by our own manual hooks instead of a certbot plugin
var builtinHooks = map[string]bool{
	internal.DNSCloudflare: true,
	internal.DNSDuckDNS:    true,
	internal.DNSVultr:      true,
}

const (
	AuthHook  = "acme-auth"
	CleanHook = "acme-clean"
)

// HasBuiltinHooks reports whether plugin is served by the acme-auth and acme-clean hooks
func HasBuiltinHooks(plugin string) bool {
	return builtinHooks[plugin]
}

// CertPaths returns where the certificate and key of d live
func CertPaths(settings internal.Settings, d internal.Deployment) (string, string) {
	if d.TLS.Source == internal.SslSourceManual {
		return d.TLS.CertPath, d.TLS.KeyPath
	}

	dir := filepath.Join(settings.LETSENCRYPT_LIVE_DIR, d.Domains[0])
	return filepath.Join(dir, "fullchain.pem"), filepath.Join(dir, "privkey.pem")
}

// Webroot is the directory nginx serves ACME http-01 challenges from
func Webroot(settings internal.Settings, d internal.Deployment) string {
	return filepath.Join(settings.LETSENCRYPT_WEBROOT, d.Name)
}

// GetCertificate asks certbot for a new certificate covering every domain of d.
// Callers decide when one is due, so renewal is forced.
// The challenge type follows the TLS settings: a certbot DNS plugin,
// our DNS hooks, or http-01 through the nginx webroot.
func GetCertificate(ctx context.Context, cmdr host.Commander, settings internal.Settings, d internal.Deployment) error {
	var cmd host.Cmd

	switch plugin := d.TLS.DNSPlugin; {
	case builtinHooks[plugin]:
		cmd = manualCommand(settings, d,
			filepath.Join(settings.LETSENCRYPT_HOOKS_DIR, AuthHook),
			filepath.Join(settings.LETSENCRYPT_HOOKS_DIR, CleanHook),
		).WithEnv(
			"DNS_PROVIDER="+plugin,
			"DNS_TTL="+strconv.Itoa(d.DNS.TTL),
		)
		log.Printf("Generating certificate for %q through the %s hooks", d.Name, plugin)

	case plugin != "":
		cmd = pluginCommand(settings, d)
		log.Printf("Generating certificate for %q with the certbot %s plugin", d.Name, plugin)

	default:
		cmd = webrootCommand(settings, d)
		log.Printf("Generating webroot certificate for %q", d.Name)
	}

	if _, err := cmdr.Run(ctx, cmd); err != nil {
		return fmt.Errorf("can't get certificate from letsencrypt: %w", err)
	}

	return nil
}

func baseArgs(settings internal.Settings, d internal.Deployment) []string {
	args := []string{
		"certonly",
		"--agree-tos",
		"-q", "-n",
		"--force-renewal",
		"--expand",
		"--cert-name", d.Domains[0],
	}

	if settings.EMAIL != "" {
		args = append(args, "--email", settings.EMAIL)
	} else {
		args = append(args, "--register-unsafely-without-email")
	}

	return args
}

func finish(settings internal.Settings, d internal.Deployment, args []string) host.Cmd {
	if settings.TESTING {
		args = append(args, "--test-cert")
	}

	for _, domain := range d.Domains {
		args = append(args, "-d", domain)
	}

	return host.Command("certbot", args...)
}

func webrootCommand(settings internal.Settings, d internal.Deployment) host.Cmd {
	args := append(baseArgs(settings, d),
		"-a", "webroot",
		"--webroot-path", Webroot(settings, d),
	)
	return finish(settings, d, args)
}

func manualCommand(settings internal.Settings, d internal.Deployment, auth, clean string) host.Cmd {
	args := append(baseArgs(settings, d),
		"-a", "manual",
		"--preferred-challenges", "dns",
		"--manual-auth-hook", auth,
		"--manual-cleanup-hook", clean,
	)
	return finish(settings, d, args)
}

func pluginCommand(settings internal.Settings, d internal.Deployment) host.Cmd {
	plugin := d.TLS.DNSPlugin

	args := append(baseArgs(settings, d),
		"--preferred-challenges", "dns",
		"--dns-"+plugin,
		fmt.Sprintf("--dns-%s-propagation-seconds", plugin), strconv.Itoa(settings.LETSENCRYPT_DNS_PROPAGATION),
	)

	// route53 reads its credentials from the environment
	var credsFile string
	switch plugin {
	case "route53":
	case "google":
		credsFile = plugin + ".json"
	default:
		credsFile = plugin + ".ini"
	}

	if credsFile != "" {
		args = append(args,
			fmt.Sprintf("--dns-%s-credentials", plugin),
			filepath.Join(settings.LETSENCRYPT_CREDS_DIR, credsFile),
		)
	}

	return finish(settings, d, args)
}
