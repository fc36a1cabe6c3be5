package provision

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/kaif367/growupquotexapi/host"
)

// FirewallRule is an inbound TCP allowance in a cloud firewall group
type FirewallRule struct {
	Port       uint
	Subnet     string
	SubnetSize int
	Notes      string
}

type FirewallGroups interface {
	Rules(ctx context.Context, groupID string) ([]FirewallRule, error)
	AddRule(ctx context.Context, groupID string, rule FirewallRule) error
}

// Firewall opens the deployment ports on the host firewall
// and optionally in a cloud firewall group
type Firewall struct {
	base

	inactive     bool
	missingHost  []uint
	missingGroup []uint
}

func (s *Firewall) Name() string { return "firewall" }

func (s *Firewall) anywhere() bool {
	return s.d.Firewall.Source == "0.0.0.0/0" || s.d.Firewall.Source == "any"
}

func (s *Firewall) Check(ctx context.Context) (Drift, error) {
	s.inactive, s.missingHost, s.missingGroup = false, nil, nil

	var err error
	if s.env.Facts.IsWindows() {
		err = s.checkNetsh(ctx)
	} else {
		err = s.checkUFW(ctx)
	}
	if err != nil {
		return Drift{}, err
	}

	if s.d.Firewall.VultrGroup != "" && s.env.FirewallGroups != nil {
		if err := s.checkGroup(ctx); err != nil {
			return Drift{}, err
		}
	}

	var reasons []string
	if s.inactive {
		reasons = append(reasons, "firewall inactive")
	}
	if len(s.missingHost) > 0 {
		reasons = append(reasons, "closed ports "+joinPorts(s.missingHost))
	}
	if len(s.missingGroup) > 0 {
		reasons = append(reasons, "missing group rules for "+joinPorts(s.missingGroup))
	}

	if len(reasons) > 0 {
		return drifted("%s", strings.Join(reasons, "; ")), nil
	}
	return inSync("ports " + joinPorts(s.d.Firewall.Ports) + " open"), nil
}

func (s *Firewall) Apply(ctx context.Context) (string, error) {
	if s.env.Facts.IsWindows() {
		for _, port := range s.missingHost {
			if _, err := s.env.run(ctx, s.netshAdd(port)); err != nil {
				return "", err
			}
		}
	} else {
		for _, port := range s.missingHost {
			if _, err := s.env.run(ctx, s.ufwAllow(port)); err != nil {
				return "", err
			}
		}
		// enabled last, after ssh is allowed
		if s.inactive {
			if _, err := s.env.run(ctx, host.Command("ufw", "--force", "enable")); err != nil {
				return "", err
			}
		}
	}

	subnet, size, err := s.subnet()
	if err != nil {
		return "", err
	}
	for _, port := range s.missingGroup {
		err := s.env.FirewallGroups.AddRule(ctx, s.d.Firewall.VultrGroup, FirewallRule{
			Port:       port,
			Subnet:     subnet,
			SubnetSize: size,
			Notes:      "apideploy " + s.d.Name,
		})
		if err != nil {
			return "", fmt.Errorf("could not add firewall group rule for port %d: %w", port, err)
		}
	}

	return digest([]byte(s.d.Firewall.Source + ":" + joinPorts(s.d.Firewall.Ports))), nil
}

// ufw status prints lines like "8000/tcp   ALLOW   Anywhere"
func (s *Firewall) checkUFW(ctx context.Context) error {
	out, err := s.env.run(ctx, host.Command("ufw", "status"))
	if err != nil {
		return fmt.Errorf("could not read ufw status: %w", err)
	}

	open := map[uint]bool{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "Status:") {
			s.inactive = strings.TrimSpace(strings.TrimPrefix(line, "Status:")) != "active"
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != "ALLOW" || strings.Contains(line, "(v6)") {
			continue
		}

		port, proto, _ := strings.Cut(fields[0], "/")
		if proto != "" && proto != "tcp" {
			continue
		}

		from := fields[2]
		if from == "IN" && len(fields) > 3 {
			from = fields[3]
		}
		if !s.matchesSource(from) {
			continue
		}

		if n, err := strconv.ParseUint(port, 10, 16); err == nil {
			open[uint(n)] = true
		}
	}

	for _, port := range s.d.Firewall.Ports {
		if !open[port] {
			s.missingHost = append(s.missingHost, port)
		}
	}

	return nil
}

func (s *Firewall) matchesSource(from string) bool {
	if s.anywhere() {
		return from == "Anywhere"
	}
	return from == s.d.Firewall.Source
}

func (s *Firewall) ufwAllow(port uint) host.Cmd {
	if s.anywhere() {
		return host.Command("ufw", "allow", fmt.Sprintf("%d/tcp", port))
	}
	return host.Command("ufw", "allow", "proto", "tcp", "from", s.d.Firewall.Source, "to", "any", "port", strconv.Itoa(int(port)))
}

func (s *Firewall) ruleName(port uint) string {
	return fmt.Sprintf("apideploy-%s-%d", s.d.Name, port)
}

func (s *Firewall) checkNetsh(ctx context.Context) error {
	for _, port := range s.d.Firewall.Ports {
		out, err := s.env.run(ctx, host.Command("netsh", "advfirewall", "firewall", "show", "rule", "name="+s.ruleName(port)))
		// netsh exits 1 with "No rules match the specified criteria."
		if err != nil || strings.Contains(out, "No rules match") {
			s.missingHost = append(s.missingHost, port)
		}
	}
	return nil
}

func (s *Firewall) netshAdd(port uint) host.Cmd {
	remote := s.d.Firewall.Source
	if s.anywhere() {
		remote = "any"
	}
	return host.Command("netsh", "advfirewall", "firewall", "add", "rule",
		"name="+s.ruleName(port),
		"dir=in",
		"action=allow",
		"protocol=TCP",
		"localport="+strconv.Itoa(int(port)),
		"remoteip="+remote,
	)
}

func (s *Firewall) subnet() (string, int, error) {
	if s.anywhere() {
		return "0.0.0.0", 0, nil
	}

	source := s.d.Firewall.Source
	if !strings.Contains(source, "/") {
		source += "/32"
	}

	ip, network, err := net.ParseCIDR(source)
	if err != nil {
		return "", 0, fmt.Errorf("invalid firewall source %q: %w", s.d.Firewall.Source, err)
	}
	size, _ := network.Mask.Size()
	return ip.String(), size, nil
}

func (s *Firewall) checkGroup(ctx context.Context) error {
	subnet, size, err := s.subnet()
	if err != nil {
		return err
	}

	rules, err := s.env.FirewallGroups.Rules(ctx, s.d.Firewall.VultrGroup)
	if err != nil {
		return fmt.Errorf("could not list firewall group rules: %w", err)
	}

	present := map[uint]bool{}
	for _, r := range rules {
		if r.Subnet == subnet && r.SubnetSize == size {
			present[r.Port] = true
		}
	}

	for _, port := range s.d.Firewall.Ports {
		if !present[port] {
			s.missingGroup = append(s.missingGroup, port)
		}
	}
	return nil
}

func joinPorts(ports []uint) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(int(p))
	}
	return strings.Join(parts, ",")
}
