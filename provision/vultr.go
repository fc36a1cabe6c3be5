package provision

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vultr/govultr/v3"
)

// VultrFirewall manages rules of Vultr firewall groups
type VultrFirewall struct {
	Client *govultr.Client
}

func (v VultrFirewall) Rules(ctx context.Context, groupID string) ([]FirewallRule, error) {
	var rules []FirewallRule

	options := &govultr.ListOptions{PerPage: 100}
	for {
		page, meta, _, err := v.Client.FirewallRule.List(ctx, groupID, options)
		if err != nil {
			return nil, err
		}

		for _, r := range page {
			if !strings.EqualFold(r.Protocol, "tcp") || r.IPType != "v4" {
				continue
			}
			port, err := strconv.ParseUint(r.Port, 10, 16)
			if err != nil {
				// ranges like 8000:8100 are not ours
				continue
			}
			rules = append(rules, FirewallRule{
				Port:       uint(port),
				Subnet:     r.Subnet,
				SubnetSize: r.SubnetSize,
				Notes:      r.Notes,
			})
		}

		if meta == nil || meta.Links == nil || meta.Links.Next == "" {
			return rules, nil
		}
		options.Cursor = meta.Links.Next
	}
}

func (v VultrFirewall) AddRule(ctx context.Context, groupID string, rule FirewallRule) error {
	_, _, err := v.Client.FirewallRule.Create(ctx, groupID, &govultr.FirewallRuleReq{
		IPType:     "v4",
		Protocol:   "tcp",
		Subnet:     rule.Subnet,
		SubnetSize: rule.SubnetSize,
		Port:       strconv.Itoa(int(rule.Port)),
		Notes:      rule.Notes,
	})
	if err != nil {
		return fmt.Errorf("vultr firewall group %s: %w", groupID, err)
	}
	return nil
}
