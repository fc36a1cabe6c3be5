package provision

import (
	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/letsencrypt"
)

var basePackages = []string{"python3", "python3-venv", "python3-pip", "git", "nginx", "ufw"}

// Plan returns the ordered steps that converge the host to d.
// d is defaulted and validated first.
func Plan(env *Environment, d internal.Deployment) ([]Step, error) {
	d = d.WithDefaults(env.goos())
	if err := d.Validate(); err != nil {
		return nil, err
	}

	b := base{env: env, d: d}

	if d.Topology == internal.TopologyPaaS {
		return []Step{
			&Checkout{base: b},
			&Manifests{base: b},
		}, nil
	}

	addr := &address{env: env, d: d}

	return []Step{
		&Packages{base: b, Names: PackagesFor(d)},
		&Interpreter{base: b},
		&Checkout{base: b},
		&Virtualenv{base: b},
		&Requirements{base: b},
		&Playwright{base: b},
		&Firewall{base: b},
		&Supervisor{base: b},
		&Upstream{base: b},
		&DNSRecords{base: b, addr: addr},
		&Nginx{base: b},
		&Propagation{base: b, addr: addr},
		&Certificate{base: b},
		&Nginx{base: b, TLSPass: true},
		&Verify{base: b},
	}, nil
}

// PackagesFor lists the apt packages a host deployment needs
func PackagesFor(d internal.Deployment) []string {
	names := append([]string{}, basePackages...)

	if d.TLS.Enabled && d.TLS.Source == internal.SslSourceLetsEncrypt {
		names = append(names, "certbot")
		if plugin := d.TLS.DNSPlugin; plugin != "" && !letsencrypt.HasBuiltinHooks(plugin) {
			names = append(names, "python3-certbot-dns-"+plugin)
		}
	}

	names = append(names, d.Packages...)

	seen := map[string]bool{}
	unique := names[:0]
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			unique = append(unique, name)
		}
	}
	return unique
}
