package config

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/presbrey/ircd/internal/handler"
	"github.com/presbrey/ircd/internal/listener"
	"github.com/presbrey/ircd/internal/security"
	"github.com/presbrey/ircd/internal/sync6"
)

// ServerInfo builds the handler.ServerInfo cmd/ircd passes into handler.New.
func (c *Config) ServerInfo() handler.ServerInfo {
	return handler.ServerInfo{
		Name:        c.Server.Name,
		SID:         c.Server.SID,
		Network:     c.Server.Network,
		Description: c.Server.Description,
		Version:     "ircd-1.0",
		Created:     time.Now(),
	}
}

// RateLimits builds the security.Limits token-bucket configuration from
// the "limits:" block.
func (c *Config) RateLimits() security.Limits {
	l := c.Limits
	return security.Limits{
		MessagesPerSecond: l.MessageRatePerSecond,
		MessageBurst:      l.Burst,
		JoinsPerSecond:    1,
		JoinBurst:         l.JoinBurstPerClient,
		CTCPPerSecond:     l.CTCPRatePerSecond,
		CTCPBurst:         l.CTCPBurstPerClient,
		ConnPerSecond:     1,
		ConnBurst:         l.ConnectionBurstPerIP,
		MaxEntries:        l.MaxLimiterEntries,
	}
}

// ExemptIPs returns the exempt-IP list for security.NewRateLimiter.
func (c *Config) ExemptIPs() []string { return c.Limits.ExemptIPs }

// ListenerConfig builds internal/listener.Config from the "listen:" block.
// Returns an error only if a TLS block names cert/key files that cannot be
// loaded; a nil *tls.Config (when Listen.TLS is nil) simply disables the
// TLS transport, matching the teacher's optional-address convention.
func (c *Config) ListenerConfig() (listener.Config, error) {
	lc := listener.Config{
		TCPAddr:           c.Listen.Address,
		ReadTimeout:       5 * time.Minute,
		MaxLineBytes:      8191,
		OutboundQueueSize: 1024,
	}
	if c.Listen.TLS != nil {
		lc.TLSAddr = c.Listen.TLS.Address
		cert, err := tls.LoadX509KeyPair(c.Listen.TLS.Cert, c.Listen.TLS.Key)
		if err != nil {
			return listener.Config{}, fmt.Errorf("loading listen.tls keypair: %w", err)
		}
		lc.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	if c.Listen.WebSocket != nil {
		lc.WSAddr = c.Listen.WebSocket.Address
	}
	return lc, nil
}

// RBLProviders resolves the configured provider names against the known
// built-in set. Unknown names are skipped (a startup log in cmd/ircd
// should warn); spec.md names specific providers by string, not by a
// registered-plugin mechanism, so resolution stays a simple name lookup.
func (c *Config) RBLProviders(known map[string]security.RBLProvider) []security.RBLProvider {
	var out []security.RBLProvider
	for _, name := range c.Security.RBL.Providers {
		if p, ok := known[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// SyncLinks converts every configured "linking.links" block into a
// sync6.LinkConfig, the shape sync6.Manager is constructed with.
func (c *Config) SyncLinks() []sync6.LinkConfig {
	out := make([]sync6.LinkConfig, 0, len(c.Linking.Links))
	for _, l := range c.Linking.Links {
		out = append(out, sync6.LinkConfig{
			Name:           l.Name,
			SID:            l.SID,
			SendPassword:   l.SendPassword,
			AcceptPassword: l.RecvPassword,
			Addr:           fmt.Sprintf("%s:%d", l.Host, l.Port),
			TLS:            l.TLS,
			PinnedFP:       l.CertFingerprint,
		})
	}
	return out
}
