package dns

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vultr/govultr/v3"
	"golang.org/x/oauth2"
)

// Vultr manages records in zones hosted on Vultr DNS
type Vultr struct {
	Client  *govultr.Client
	Options RecordOptions
}

func NewVultr(ctx context.Context, apiKey string, opts RecordOptions) *Vultr {
	config := &oauth2.Config{}
	ts := config.TokenSource(ctx, &oauth2.Token{AccessToken: apiKey})
	return &Vultr{
		Client:  govultr.NewClient(oauth2.NewClient(ctx, ts)),
		Options: opts,
	}
}

func (v *Vultr) Name() string { return "vultr" }

func (v *Vultr) records(ctx context.Context, zone, recordType, name string) ([]govultr.DomainRecord, error) {
	var found []govultr.DomainRecord

	options := &govultr.ListOptions{PerPage: 100}
	for {
		records, meta, _, err := v.Client.DomainRecord.List(ctx, zone, options)
		if err != nil {
			return nil, fmt.Errorf("could not list vultr records of %s: %w", zone, err)
		}

		for _, r := range records {
			if r.Type == recordType && r.Name == name {
				found = append(found, r)
			}
		}

		if meta == nil || meta.Links == nil || meta.Links.Next == "" {
			return found, nil
		}
		options.Cursor = meta.Links.Next
	}
}

func (v *Vultr) ttl() int {
	if v.Options.TTL == 0 {
		return 300
	}
	return v.Options.TTL
}

func (v *Vultr) Lookup(ctx context.Context, fqdn string) ([]string, error) {
	zone, name := SplitName(fqdn)
	records, err := v.records(ctx, zone, "A", name)
	if err != nil {
		return nil, err
	}

	values := make([]string, len(records))
	for i, r := range records {
		values[i] = r.Data
	}
	return values, nil
}

func (v *Vultr) SetA(ctx context.Context, fqdn, ip string) error {
	zone, name := SplitName(fqdn)
	records, err := v.records(ctx, zone, "A", name)
	if err != nil {
		return err
	}

	req := &govultr.DomainRecordReq{Name: name, Type: "A", Data: ip, TTL: v.ttl()}

	if len(records) == 0 {
		_, _, err = v.Client.DomainRecord.Create(ctx, zone, req)
		if err != nil {
			return fmt.Errorf("could not create vultr record %s: %w", fqdn, err)
		}
		return nil
	}

	for _, extra := range records[1:] {
		if err := v.Client.DomainRecord.Delete(ctx, zone, extra.ID); err != nil {
			return fmt.Errorf("could not delete vultr record %s: %w", extra.ID, err)
		}
	}

	if records[0].Data == ip {
		return nil
	}

	if err := v.Client.DomainRecord.Update(ctx, zone, records[0].ID, req); err != nil {
		return fmt.Errorf("could not update vultr record %s: %w", fqdn, err)
	}
	return nil
}

func (v *Vultr) SetTXT(ctx context.Context, fqdn, value string) error {
	zone, name := SplitName(fqdn)
	quoted := strconv.Quote(value)

	records, err := v.records(ctx, zone, "TXT", name)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Data == quoted {
			return nil
		}
	}

	_, _, err = v.Client.DomainRecord.Create(ctx, zone, &govultr.DomainRecordReq{
		Name: name,
		Type: "TXT",
		Data: quoted,
		TTL:  v.ttl(),
	})
	if err != nil {
		return fmt.Errorf("could not create vultr TXT record %s: %w", fqdn, err)
	}
	return nil
}

func (v *Vultr) ClearTXT(ctx context.Context, fqdn string) error {
	zone, name := SplitName(fqdn)
	records, err := v.records(ctx, zone, "TXT", name)
	if err != nil {
		return err
	}

	for _, r := range records {
		if err := v.Client.DomainRecord.Delete(ctx, zone, r.ID); err != nil {
			return fmt.Errorf("could not delete vultr record %s: %w", r.ID, err)
		}
	}
	return nil
}
