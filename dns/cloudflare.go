package dns

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudflare/cloudflare-go"
)

// Cloudflare manages records through the v4 API with a scoped API token
type Cloudflare struct {
	API     *cloudflare.API
	Options RecordOptions
}

func NewCloudflare(token string, opts RecordOptions, options ...cloudflare.Option) (*Cloudflare, error) {
	api, err := cloudflare.NewWithAPIToken(token, options...)
	if err != nil {
		return nil, fmt.Errorf("could not create cloudflare client: %w", err)
	}
	return &Cloudflare{API: api, Options: opts}, nil
}

func (c *Cloudflare) Name() string { return "cloudflare" }

func (c *Cloudflare) zone(fqdn string) (*cloudflare.ResourceContainer, error) {
	name, _ := SplitName(fqdn)

	id, err := c.API.ZoneIDByName(name)
	if err != nil {
		return nil, fmt.Errorf("cloudflare zone %q: %w", name, err)
	}

	return cloudflare.ZoneIdentifier(id), nil
}

func (c *Cloudflare) records(ctx context.Context, zone *cloudflare.ResourceContainer, recordType, fqdn string) ([]cloudflare.DNSRecord, error) {
	records, _, err := c.API.ListDNSRecords(ctx, zone, cloudflare.ListDNSRecordsParams{
		Type: recordType,
		Name: fqdn,
		// a name never has more than a handful of records
		ResultInfo: cloudflare.ResultInfo{PerPage: 100},
	})
	if err != nil {
		return nil, fmt.Errorf("could not list cloudflare %s records of %s: %w", recordType, fqdn, err)
	}
	return records, nil
}

func (c *Cloudflare) Lookup(ctx context.Context, fqdn string) ([]string, error) {
	zone, err := c.zone(fqdn)
	if err != nil {
		return nil, err
	}

	records, err := c.records(ctx, zone, "A", fqdn)
	if err != nil {
		return nil, err
	}

	values := make([]string, len(records))
	for i, r := range records {
		values[i] = r.Content
	}
	return values, nil
}

func (c *Cloudflare) ttl() int {
	// 1 is "automatic", the only value allowed for proxied records
	if c.Options.Proxied || c.Options.TTL == 0 {
		return 1
	}
	return c.Options.TTL
}

func proxied(r cloudflare.DNSRecord) bool {
	return r.Proxied != nil && *r.Proxied
}

func (c *Cloudflare) SetA(ctx context.Context, fqdn, ip string) error {
	zone, err := c.zone(fqdn)
	if err != nil {
		return err
	}

	records, err := c.records(ctx, zone, "A", fqdn)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		_, err = c.API.CreateDNSRecord(ctx, zone, cloudflare.CreateDNSRecordParams{
			Type:    "A",
			Name:    fqdn,
			Content: ip,
			TTL:     c.ttl(),
			Proxied: cloudflare.BoolPtr(c.Options.Proxied),
		})
		if err != nil {
			return fmt.Errorf("could not create cloudflare A record of %s: %w", fqdn, err)
		}
		return nil
	}

	// Keep the first record, drop any others
	for _, extra := range records[1:] {
		if err := c.API.DeleteDNSRecord(ctx, zone, extra.ID); err != nil {
			return fmt.Errorf("could not delete cloudflare record %s of %s: %w", extra.ID, fqdn, err)
		}
	}

	first := records[0]
	if first.Content == ip && proxied(first) == c.Options.Proxied {
		return nil
	}

	_, err = c.API.UpdateDNSRecord(ctx, zone, cloudflare.UpdateDNSRecordParams{
		ID:      first.ID,
		Type:    "A",
		Name:    fqdn,
		Content: ip,
		TTL:     c.ttl(),
		Proxied: cloudflare.BoolPtr(c.Options.Proxied),
	})
	if err != nil {
		return fmt.Errorf("could not update cloudflare A record of %s: %w", fqdn, err)
	}
	return nil
}

func (c *Cloudflare) SetTXT(ctx context.Context, fqdn, value string) error {
	zone, err := c.zone(fqdn)
	if err != nil {
		return err
	}

	records, err := c.records(ctx, zone, "TXT", fqdn)
	if err != nil {
		return err
	}
	for _, r := range records {
		if strings.Trim(r.Content, `"`) == value {
			return nil
		}
	}

	// Several TXT values may coexist, e.g. for the apex and the wildcard
	_, err = c.API.CreateDNSRecord(ctx, zone, cloudflare.CreateDNSRecordParams{
		Type:    "TXT",
		Name:    fqdn,
		Content: value,
		TTL:     120,
	})
	if err != nil {
		return fmt.Errorf("could not create cloudflare TXT record of %s: %w", fqdn, err)
	}
	return nil
}

func (c *Cloudflare) ClearTXT(ctx context.Context, fqdn string) error {
	zone, err := c.zone(fqdn)
	if err != nil {
		return err
	}

	records, err := c.records(ctx, zone, "TXT", fqdn)
	if err != nil {
		return err
	}

	for _, r := range records {
		if err := c.API.DeleteDNSRecord(ctx, zone, r.ID); err != nil {
			return fmt.Errorf("could not delete cloudflare record %s of %s: %w", r.ID, fqdn, err)
		}
	}

	return nil
}
