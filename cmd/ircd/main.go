// Command ircd runs the server: it loads configuration, wires every
// subsystem package together, and blocks until SIGINT/SIGTERM triggers
// an orderly shutdown.
//
// Grounded on irc/ircd/main.go's flag-parse/load-config/start/wait-for-
// signal shape, expanded from the teacher's single *server.Server into
// this repository's several independently-owned subsystems.
package main

import (
	"flag"
	"log"
	"net"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/presbrey/ircd/internal/admin"
	"github.com/presbrey/ircd/internal/chanactor"
	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/config"
	"github.com/presbrey/ircd/internal/handler"
	"github.com/presbrey/ircd/internal/lifecycle"
	"github.com/presbrey/ircd/internal/listener"
	"github.com/presbrey/ircd/internal/matrix"
	"github.com/presbrey/ircd/internal/security"
	"github.com/presbrey/ircd/internal/services"
	"github.com/presbrey/ircd/internal/store"
	"github.com/presbrey/ircd/internal/sync6"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file or URL")
	flag.Parse()

	// godotenv.Load is a no-op (returns an ignorable error) when no .env
	// file is present, matching how local-development convenience
	// env files are treated elsewhere in the pack: optional, never
	// required for a production deployment.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("ircd: loading configuration: %v", err)
	}

	db, err := store.OpenWithDriver(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		log.Fatalf("ircd: opening database: %v", err)
	}
	defer db.Close()

	clk := clock.New(cfg.Server.SID, time.Now)
	mtx := matrix.New(clk, 30*time.Second, 8, 24*time.Hour)

	uidGen, err := matrix.NewUIDGenerator(cfg.Server.SID)
	if err != nil {
		log.Fatalf("ircd: building UID generator: %v", err)
	}

	var channels *handler.ChannelManager
	syncMgr := sync6.NewManager(cfg.Server.SID, cfg.Server.Name, cfg.Server.Description, mtx, clk,
		func(name string) *chanactor.Actor { return channels.GetOrCreate(name) },
		cfg.SyncLinks())
	channels = handler.NewChannelManager(mtx, clk, syncMgr)

	accounts := services.NewAccountStore()
	accounts.SetPersister(db)
	hydrateAccounts(db, accounts)

	rateLimits := cfg.RateLimits()
	historyStore := db
	if !cfg.History.Enabled {
		historyStore = nil
	}

	denyList := security.NewDenyList()
	banCache := security.NewBanCache()
	hostBans := security.NewBanCache()
	realBans := security.NewBanCache()
	shunBans := security.NewBanCache()

	deps := &handler.Deps{
		Info:                 cfg.ServerInfo(),
		Matrix:               mtx,
		Clock:                clk,
		UIDGen:               uidGen,
		Cloaker:              security.NewCloaker(cfg.Security.CloakSecret),
		MessageLimiter:       security.NewRateLimiter(rateLimits, cfg.ExemptIPs()),
		JoinLimiter:          security.NewRateLimiter(rateLimits, cfg.ExemptIPs()),
		Channels:             channels,
		Accounts:             accounts,
		History:              historyStore,
		StorePrivateMessages: cfg.History.StorePrivateMessages,
		ChatHistoryMax:       cfg.History.ChatHistoryMax,
		Router:               syncMgr,
		Operators:            cfg.Security.Operators,
		DenyList:             denyList,
		HostBans:             hostBans,
		IPBans:               banCache,
		RealBans:             realBans,
		ShunBans:             shunBans,
	}
	registry := handler.New(deps)
	syncMgr.SetRegistry(registry)
	syncMgr.RegisterObserver()

	nickservUID := uidGen.Next()
	ns := services.NewNickServ(mtx, clk, accounts)
	ns.Start(nickservUID)

	chanservUID := uidGen.Next()
	cs := services.NewChanServ(mtx, clk, channels.Get)
	cs.Start(chanservUID)

	connLimiter := security.NewRateLimiter(rateLimits, cfg.ExemptIPs())
	heuristics := security.NewHeuristicScore(10 * time.Minute)
	rblChecker := security.NewChecker(cfg.RBLProviders(knownRBLProviders(cfg)), 5*time.Second, cfg.Security.RBL.CacheTTL, cfg.Security.RBL.CacheCap)

	lnCfg, err := cfg.ListenerConfig()
	if err != nil {
		log.Fatalf("ircd: building listener config: %v", err)
	}
	ln := listener.New(lnCfg, registry, denyList, banCache, connLimiter, heuristics, rblChecker)
	go func() {
		if err := ln.ListenAndServe(); err != nil {
			log.Printf("ircd: client listener stopped: %v", err)
		}
	}()

	if cfg.Linking.ListenAddress != "" {
		peerLn, err := net.Listen("tcp", cfg.Linking.ListenAddress)
		if err != nil {
			log.Fatalf("ircd: binding peer listen address: %v", err)
		}
		go syncMgr.Serve(peerLn)
	}

	startAdmin(cfg, mtx, channels, syncMgr, uidGen)

	mgr := lifecycle.New(lifecycle.Config{
		Listener:        ln,
		Channels:        channels,
		Sync:            syncMgr,
		Enforcer:        services.NewEnforcer(mtx, clk, accounts, cfg.Server.SID, cfg.Services.EnforceTimeout),
		BanCache:        banCache,
		Whowas:          mtx.Whowas(),
		SyncLinks:       autoconnectLinks(cfg),
		EnforceInterval: 30 * time.Second,
		PruneInterval:   5 * time.Minute,
	})
	mgr.Start()

	log.Printf("ircd: %s (%s) listening on %s", cfg.Server.Name, cfg.Server.SID, cfg.Listen.Address)
	mgr.Run()
}

// hydrateAccounts loads every persisted registration into accounts at
// startup, matching internal/store's documented startup-hydration
// contract (ListRegisteredNicks "used to hydrate services.AccountStore
// at startup").
func hydrateAccounts(db *store.Store, accounts *services.AccountStore) {
	recs, err := db.ListRegisteredNicks()
	if err != nil {
		log.Printf("ircd: loading registered nicknames: %v", err)
		return
	}
	for _, r := range recs {
		accounts.LoadAccount(r.Nickname, []byte(r.PasswordHash), "", time.Unix(r.RegisteredAt, 0), time.Unix(r.LastSeen, 0))
	}
	log.Printf("ircd: hydrated %d registered account(s)", len(recs))
}

// autoconnectLinks returns only the configured peer links marked
// autoconnect: true, matched back to their adapted sync6.LinkConfig by
// SID; the rest accept inbound connections only and are never dialed
// automatically.
func autoconnectLinks(cfg *config.Config) []sync6.LinkConfig {
	auto := make(map[string]bool, len(cfg.Linking.Links))
	for _, l := range cfg.Linking.Links {
		if l.Autoconnect {
			auto[l.SID] = true
		}
	}
	var out []sync6.LinkConfig
	for _, lc := range cfg.SyncLinks() {
		if auto[lc.SID] {
			out = append(out, lc)
		}
	}
	return out
}

// knownRBLProviders resolves the blocklist backends cfg.Security.RBL
// may name by string: zen.spamhaus.org as a DNSBL, and StopForumSpam/
// AbuseIPDB as HTTP API providers keyed by the matching entry in
// api_keys, mirroring rbl.go's own HTTPCheck/DNSZone split.
func knownRBLProviders(cfg *config.Config) map[string]security.RBLProvider {
	providers := map[string]security.RBLProvider{
		"spamhaus": {Name: "spamhaus", DNSZone: "zen.spamhaus.org"},
	}
	if key, ok := cfg.Security.RBL.APIKeys["stopforumspam"]; ok {
		providers["stopforumspam"] = security.RBLProvider{Name: "stopforumspam", HTTPCheck: security.StopForumSpamCheck(key)}
	}
	if key, ok := cfg.Security.RBL.APIKeys["abuseipdb"]; ok {
		threshold := cfg.Security.RBL.Threshold
		if threshold <= 0 {
			threshold = 50
		}
		providers["abuseipdb"] = security.RBLProvider{Name: "abuseipdb", HTTPCheck: security.AbuseIPDBCheck(key, threshold)}
	}
	return providers
}

// adminSampler adapts *matrix.Matrix and *sync6.Manager into
// admin.Sampler/admin.Inspector's narrow read surfaces, satisfying both
// without either package depending on admin.
type adminSampler struct {
	mtx      *matrix.Matrix
	channels *handler.ChannelManager
	sync     *sync6.Manager
}

func (a adminSampler) ClientCount() int   { return len(a.mtx.AllUsers()) }
func (a adminSampler) ChannelCount() int  { return len(a.mtx.Channels()) }
func (a adminSampler) PeerLinkCount() int { return a.sync.LinkCount() }

func (a adminSampler) ClientSummaries() []admin.ClientSummary {
	users := a.mtx.AllUsers()
	out := make([]admin.ClientSummary, 0, len(users))
	for _, u := range users {
		out = append(out, admin.ClientSummary{
			UID: u.UID(), Nick: u.Nick(), Username: u.Username(),
			Host: u.VisibleHost(), Account: u.Account(), SID: u.SID(),
		})
	}
	return out
}

func (a adminSampler) ChannelSummaries() []admin.ChannelSummary {
	chans := a.mtx.Channels()
	out := make([]admin.ChannelSummary, 0, len(chans))
	for _, c := range chans {
		out = append(out, admin.ChannelSummary{Name: c.Name(), Members: c.MemberCount()})
	}
	return out
}

func (a adminSampler) PeerSummaries() []admin.PeerSummary {
	// No peer summaries are collected: this always returns nil, so the
	// web console's peer list is empty even while links are up.
	return nil
}

// startAdmin launches the configured subset of internal/admin's three
// HTTP surfaces (Prometheus metrics, read-only web console, bot API) as
// background goroutines, each independently gated by its own config
// block's Enabled flag.
func startAdmin(cfg *config.Config, mtx *matrix.Matrix, channels *handler.ChannelManager, syncMgr *sync6.Manager, uidGen *matrix.UIDGenerator) {
	sampler := adminSampler{mtx: mtx, channels: channels, sync: syncMgr}

	if cfg.Metrics.Enabled {
		admin.NewMetrics(prometheus.DefaultRegisterer, sampler)
		go func() {
			if err := admin.ListenMetrics(cfg.Metrics.Address); err != nil {
				log.Printf("ircd: metrics endpoint stopped: %v", err)
			}
		}()
	}

	if cfg.Web.Enabled {
		web := admin.NewWebServer(cfg.Web.Address, sampler, webBearerToken(cfg))
		go func() {
			if err := web.ListenAndServe(); err != nil {
				log.Printf("ircd: admin web console stopped: %v", err)
			}
		}()
	}

	if cfg.Bots.Enabled {
		bot := admin.NewBotAPI(mtx, mtx.Clock(), channels, uidGen.Next(), "OpsBot", cfg.Bots.BearerTokens)
		go func() {
			if err := bot.ListenAndServe(cfg.Bots.Address); err != nil {
				log.Printf("ircd: bot API stopped: %v", err)
			}
		}()
	}
}

// webBearerToken returns the first configured bot-API token for reuse
// as the web console's bearer token when the deployment hasn't set one
// explicitly, since both admin surfaces share the same trust boundary
// (operator tooling, not end users) in the teacher's WebPortal/Bots
// split.
func webBearerToken(cfg *config.Config) string {
	if len(cfg.Bots.BearerTokens) > 0 {
		return cfg.Bots.BearerTokens[0]
	}
	return ""
}
