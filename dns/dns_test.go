package dns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitName(t *testing.T) {
	cases := []struct {
		fqdn, zone, record string
	}{
		{"example.com", "example.com", ""},
		{"api.example.com", "example.com", "api"},
		{"a.b.example.com", "example.com", "a.b"},
		{"_acme-challenge.example.com", "example.com", "_acme-challenge"},
		{"_acme-challenge.api.example.com", "example.com", "_acme-challenge.api"},
		{"API.Example.com.", "example.com", "api"},
	}

	for _, c := range cases {
		zone, record := SplitName(c.fqdn)
		assert.Equal(t, c.zone, zone, c.fqdn)
		assert.Equal(t, c.record, record, c.fqdn)
	}
}

func TestChallengeName(t *testing.T) {
	assert.Equal(t, "_acme-challenge.example.com", ChallengeName("example.com"))
	assert.Equal(t, "_acme-challenge.example.com", ChallengeName("*.example.com"))
}

func TestNewRequiresCredentials(t *testing.T) {
	for _, name := range []string{"cloudflare", "duckdns", "noip", "vultr"} {
		_, err := New(name, Credentials{}, RecordOptions{})
		assert.Error(t, err, name)
	}

	_, err := New("route53", Credentials{}, RecordOptions{})
	assert.ErrorContains(t, err, "unknown dns provider")

	p, err := New("duckdns", Credentials{DuckDNSToken: "t"}, RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, "duckdns", p.Name())
}

type fakeRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// fakeCloudflare keeps records of a single zone in memory
type fakeCloudflare struct {
	mu      sync.Mutex
	records map[string]fakeRecord
	nextID  int
	calls   []string
}

func (f *fakeCloudflare) reply(w http.ResponseWriter, result interface{}) {
	raw, _ := json.Marshal(result)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"errors":   []interface{}{},
		"messages": []interface{}{},
		"result":   json.RawMessage(raw),
		"result_info": map[string]int{
			"page": 1, "per_page": 100, "count": 1, "total_count": 1, "total_pages": 1,
		},
	})
}

func (f *fakeCloudflare) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	if r.Header.Get("Authorization") != "Bearer secret" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":  false,
			"errors":   []map[string]interface{}{{"code": 9109, "message": "Invalid access token"}},
			"messages": []interface{}{},
			"result":   nil,
		})
		return
	}

	switch {
	case r.URL.Path == "/zones":
		if r.URL.Query().Get("name") != "example.com" {
			f.reply(w, []interface{}{})
			return
		}
		f.reply(w, []map[string]string{{"id": "zone-1", "name": "example.com"}})

	case r.URL.Path == "/zones/zone-1/dns_records" && r.Method == http.MethodGet:
		found := []fakeRecord{}
		for _, rec := range f.records {
			if rec.Type == r.URL.Query().Get("type") && rec.Name == r.URL.Query().Get("name") {
				found = append(found, rec)
			}
		}
		sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
		f.reply(w, found)

	case r.URL.Path == "/zones/zone-1/dns_records" && r.Method == http.MethodPost:
		var rec fakeRecord
		json.NewDecoder(r.Body).Decode(&rec)
		f.nextID++
		rec.ID = fmt.Sprintf("rec-%d", f.nextID)
		f.records[rec.ID] = rec
		f.reply(w, rec)

	case strings.HasPrefix(r.URL.Path, "/zones/zone-1/dns_records/"):
		id := strings.TrimPrefix(r.URL.Path, "/zones/zone-1/dns_records/")
		switch r.Method {
		case http.MethodGet:
			f.reply(w, f.records[id])
		case http.MethodPut, http.MethodPatch:
			rec := f.records[id]
			json.NewDecoder(r.Body).Decode(&rec)
			rec.ID = id
			f.records[id] = rec
			f.reply(w, rec)
		case http.MethodDelete:
			delete(f.records, id)
			f.reply(w, map[string]string{"id": id})
		}

	default:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false})
	}
}

func newFakeCloudflare(t *testing.T, token string) (*Cloudflare, *fakeCloudflare) {
	t.Helper()

	fake := &fakeCloudflare{records: map[string]fakeRecord{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cf, err := NewCloudflare(token, RecordOptions{TTL: 300},
		cloudflare.BaseURL(srv.URL),
		cloudflare.UsingRetryPolicy(0, 0, 0),
		cloudflare.UsingRateLimit(1000),
	)
	require.NoError(t, err)

	return cf, fake
}

func TestCloudflareSetA(t *testing.T) {
	ctx := context.Background()
	cf, fake := newFakeCloudflare(t, "secret")

	require.NoError(t, cf.SetA(ctx, "api.example.com", "203.0.113.10"))
	values, err := cf.Lookup(ctx, "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.10"}, values)

	// Converged, so no write happens
	fake.calls = nil
	require.NoError(t, cf.SetA(ctx, "api.example.com", "203.0.113.10"))
	for _, call := range fake.calls {
		assert.True(t, strings.HasPrefix(call, "GET"), call)
	}

	// A second stray record is removed and the first updated
	fake.records["stray"] = fakeRecord{ID: "stray", Type: "A", Name: "api.example.com", Content: "198.51.100.1"}
	require.NoError(t, cf.SetA(ctx, "api.example.com", "203.0.113.20"))

	values, err = cf.Lookup(ctx, "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.20"}, values)
}

func TestCloudflareProxied(t *testing.T) {
	ctx := context.Background()
	cf, fake := newFakeCloudflare(t, "secret")
	cf.Options.Proxied = true

	require.NoError(t, cf.SetA(ctx, "api.example.com", "203.0.113.10"))
	require.Len(t, fake.records, 1)
	for _, rec := range fake.records {
		assert.True(t, rec.Proxied)
		assert.Equal(t, 1, rec.TTL)
	}

	// Turning the proxy off is a change even with the same address
	cf.Options.Proxied = false
	require.NoError(t, cf.SetA(ctx, "api.example.com", "203.0.113.10"))
	for _, rec := range fake.records {
		assert.False(t, rec.Proxied)
		assert.Equal(t, 300, rec.TTL)
	}
}

func TestCloudflareTXT(t *testing.T) {
	ctx := context.Background()
	cf, fake := newFakeCloudflare(t, "secret")

	require.NoError(t, cf.SetTXT(ctx, "_acme-challenge.example.com", "token-1"))
	require.NoError(t, cf.SetTXT(ctx, "_acme-challenge.example.com", "token-1"))
	require.NoError(t, cf.SetTXT(ctx, "_acme-challenge.example.com", "token-2"))
	assert.Len(t, fake.records, 2)

	require.NoError(t, cf.ClearTXT(ctx, "_acme-challenge.example.com"))
	assert.Empty(t, fake.records)
}

func TestCloudflareErrors(t *testing.T) {
	ctx := context.Background()

	cf, _ := newFakeCloudflare(t, "wrong")
	err := cf.SetA(ctx, "api.example.com", "203.0.113.10")
	assert.ErrorContains(t, err, "Invalid access token")

	cf, _ = newFakeCloudflare(t, "secret")
	err = cf.SetA(ctx, "api.example.org", "203.0.113.10")
	assert.ErrorContains(t, err, `cloudflare zone "example.org"`)
}

func TestDuckDNS(t *testing.T) {
	ctx := context.Background()

	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		if r.URL.Query().Get("token") != "duck" {
			fmt.Fprint(w, "KO")
			return
		}
		fmt.Fprint(w, "OK")
	}))
	defer srv.Close()

	d := &DuckDNS{Token: "duck", BaseURL: srv.URL, Client: newHTTPClient()}

	require.NoError(t, d.SetA(ctx, "myapi.duckdns.org", "203.0.113.10"))
	assert.Contains(t, queries[0], "domains=myapi")
	assert.Contains(t, queries[0], "ip=203.0.113.10")

	require.NoError(t, d.SetTXT(ctx, "_acme-challenge.myapi.duckdns.org", "tok"))
	assert.Contains(t, queries[1], "txt=tok")

	require.NoError(t, d.ClearTXT(ctx, "_acme-challenge.myapi.duckdns.org"))
	assert.Contains(t, queries[2], "clear=true")

	err := d.SetA(ctx, "api.example.com", "203.0.113.10")
	assert.ErrorContains(t, err, "not a duckdns.org domain")

	d.Token = "bad"
	err = d.SetA(ctx, "myapi.duckdns.org", "203.0.113.10")
	assert.ErrorContains(t, err, "rejected")
}

func TestNoIP(t *testing.T) {
	ctx := context.Background()

	answer := "good 203.0.113.10"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "me" || pass != "pw" {
			fmt.Fprint(w, "badauth")
			return
		}
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Equal(t, "api.ddns.net", r.URL.Query().Get("hostname"))
		fmt.Fprint(w, answer)
	}))
	defer srv.Close()

	n := &NoIP{Username: "me", Password: "pw", BaseURL: srv.URL, Client: newHTTPClient()}
	require.NoError(t, n.SetA(ctx, "api.ddns.net", "203.0.113.10"))

	answer = "nochg 203.0.113.10"
	require.NoError(t, n.SetA(ctx, "api.ddns.net", "203.0.113.10"))

	answer = "nohost"
	assert.ErrorContains(t, n.SetA(ctx, "api.ddns.net", "203.0.113.10"), "nohost")

	for _, blank := range []string{"", "  \n"} {
		answer = blank
		assert.ErrorContains(t, n.SetA(ctx, "api.ddns.net", "203.0.113.10"), "empty response")
	}

	n.Password = "nope"
	assert.ErrorContains(t, n.SetA(ctx, "api.ddns.net", "203.0.113.10"), "badauth")

	assert.True(t, errors.Is(n.SetTXT(ctx, "x", "y"), ErrUnsupported))
	assert.True(t, errors.Is(n.ClearTXT(ctx, "x"), ErrUnsupported))
}

func TestPublicIP(t *testing.T) {
	ctx := context.Background()

	body := "203.0.113.7\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	ip, err := PublicIP(ctx, nil, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", ip)

	body = "<html>blocked</html>"
	_, err = PublicIP(ctx, nil, srv.URL)
	assert.ErrorContains(t, err, "not an IPv4 address")
}

func TestPoll(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := Poll(ctx, 10*time.Millisecond, func(context.Context) (bool, error) {
		attempts++
		return attempts == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	boom := errors.New("boom")
	err = Poll(ctx, 10*time.Millisecond, func(context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err = Poll(ctx, 10*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
