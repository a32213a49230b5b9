package security

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RBLResult is the outcome of a blocklist lookup.
type RBLResult struct {
	Listed      bool
	Inconclusive bool
	Provider    string
}

type cacheEntry struct {
	result  RBLResult
	expires time.Time
}

// RBLProvider is one HTTP-based or DNS-based blocklist backend.
type RBLProvider struct {
	Name   string
	// DNSZone set means this provider is a DNSBL (e.g. "zen.spamhaus.org");
	// HTTPCheck set means it is an HTTP API provider (StopForumSpam,
	// AbuseIPDB-style).
	DNSZone   string
	HTTPCheck func(ctx context.Context, client *http.Client, ip string) (RBLResult, error)
}

// Checker looks up an IP against configured providers, preferring HTTP
// providers for privacy and falling back to DNSBL only when no HTTP
// provider gives a conclusive answer. Results are cached with a TTL;
// once the cache holds cacheCap entries, an arbitrary entry is evicted to
// make room (no least-recently-used order is kept).
type Checker struct {
	providers []RBLProvider
	client    *http.Client
	resolver  *net.Resolver
	timeout   time.Duration
	threshold int // providers needed to agree before Listed=true

	mu       sync.Mutex
	cache    map[string]cacheEntry
	cacheCap int
	cacheTTL time.Duration
}

// NewChecker constructs a Checker. timeout bounds each individual lookup
// (spec.md: a 5-second timeout yielding an inconclusive, non-blocking
// result).
func NewChecker(providers []RBLProvider, timeout, cacheTTL time.Duration, cacheCap int) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		providers: providers,
		client:    &http.Client{Timeout: timeout},
		resolver:  net.DefaultResolver,
		timeout:   timeout,
		threshold: 1,
		cache:     make(map[string]cacheEntry),
		cacheCap:  cacheCap,
		cacheTTL:  cacheTTL,
	}
}

// Lookup checks ip against every configured provider. A per-provider
// timeout yields an inconclusive, non-blocking result for that provider
// rather than failing the whole lookup.
func (c *Checker) Lookup(ctx context.Context, ip string) RBLResult {
	c.mu.Lock()
	if e, ok := c.cache[ip]; ok && time.Now().Before(e.expires) {
		c.mu.Unlock()
		return e.result
	}
	c.mu.Unlock()

	listed := false
	anyConclusive := false
	for _, dnsPass := range []bool{false, true} {
		if anyConclusive {
			break
		}
		for _, p := range c.providers {
			if (p.HTTPCheck == nil) != dnsPass {
				continue
			}
			lctx, cancel := context.WithTimeout(ctx, c.timeout)
			res, err := c.checkOne(lctx, p, ip)
			cancel()
			if err != nil || res.Inconclusive {
				continue
			}
			anyConclusive = true
			if res.Listed {
				listed = true
			}
		}
	}

	result := RBLResult{Listed: listed, Inconclusive: !anyConclusive}
	c.store(ip, result)
	return result
}

func (c *Checker) checkOne(ctx context.Context, p RBLProvider, ip string) (RBLResult, error) {
	if p.HTTPCheck != nil {
		return p.HTTPCheck(ctx, c.client, ip)
	}
	if p.DNSZone != "" {
		return c.checkDNSBL(ctx, p, ip)
	}
	return RBLResult{Inconclusive: true}, nil
}

func (c *Checker) checkDNSBL(ctx context.Context, p RBLProvider, ip string) (RBLResult, error) {
	reversed, err := reverseIPv4(ip)
	if err != nil {
		return RBLResult{Inconclusive: true}, err
	}
	query := reversed + "." + p.DNSZone
	_, err = c.resolver.LookupHost(ctx, query)
	if err != nil {
		// NXDOMAIN (or any resolution failure) means not listed.
		return RBLResult{Listed: false, Provider: p.Name}, nil
	}
	return RBLResult{Listed: true, Provider: p.Name}, nil
}

func reverseIPv4(ip string) (string, error) {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return "", fmt.Errorf("rbl: %q is not an IPv4 address", ip)
	}
	parts := strings.Split(parsed.String(), ".")
	return fmt.Sprintf("%s.%s.%s.%s", parts[3], parts[2], parts[1], parts[0]), nil
}

func (c *Checker) store(ip string, result RBLResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cacheCap > 0 && len(c.cache) >= c.cacheCap {
		for k := range c.cache {
			delete(c.cache, k)
			break
		}
	}
	c.cache[ip] = cacheEntry{result: result, expires: time.Now().Add(c.cacheTTL)}
}

// StopForumSpamCheck builds an HTTPCheck function for the StopForumSpam API.
func StopForumSpamCheck(apiKey string) func(context.Context, *http.Client, string) (RBLResult, error) {
	return func(ctx context.Context, client *http.Client, ip string) (RBLResult, error) {
		url := fmt.Sprintf("https://api.stopforumspam.org/api?ip=%s&json", ip)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return RBLResult{Inconclusive: true}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return RBLResult{Inconclusive: true}, err
		}
		defer resp.Body.Close()

		var body struct {
			IP struct {
				Appears int `json:"appears"`
			} `json:"ip"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return RBLResult{Inconclusive: true}, err
		}
		return RBLResult{Listed: body.IP.Appears > 0, Provider: "stopforumspam"}, nil
	}
}

// AbuseIPDBCheck builds an HTTPCheck function for the AbuseIPDB API.
func AbuseIPDBCheck(apiKey string, threshold int) func(context.Context, *http.Client, string) (RBLResult, error) {
	return func(ctx context.Context, client *http.Client, ip string) (RBLResult, error) {
		url := fmt.Sprintf("https://api.abuseipdb.com/api/v2/check?ipAddress=%s", ip)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return RBLResult{Inconclusive: true}, err
		}
		req.Header.Set("Key", apiKey)
		req.Header.Set("Accept", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return RBLResult{Inconclusive: true}, err
		}
		defer resp.Body.Close()

		var body struct {
			Data struct {
				AbuseConfidenceScore int `json:"abuseConfidenceScore"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return RBLResult{Inconclusive: true}, err
		}
		return RBLResult{Listed: body.Data.AbuseConfidenceScore >= threshold, Provider: "abuseipdb"}, nil
	}
}
