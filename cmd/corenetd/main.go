// Command corenetd is the daemon entrypoint: it loads configuration, wires
// together the worker pool, transport registry, cluster registry, link
// manager, global-DB driver, and the CLI/JSON-RPC
// admin channel, and then blocks until terminated.
package main

import (
	"crypto/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"corenet/pkg/cli"
	"corenet/pkg/cluster"
	"corenet/pkg/config"
	"corenet/pkg/gdb"
	"corenet/pkg/link"
	"corenet/pkg/transport"
	"corenet/pkg/worker"
)

func main() {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	configsDir := envOrDefault("CORENET_CONFIGS_DIR", "/etc/corenet")
	cfg, err := config.Load(configsDir, "corenet")
	if err != nil {
		log.WithError(err).Warn("corenetd: falling back to defaults, config load failed")
		cfg = config.New()
	}
	if cfg.DebugConfig() {
		log.SetLevel(logrus.DebugLevel)
	}

	numWorkers := int(cfg.GetInt64("general", "worker_count", 4))
	connectionTimeout := time.Duration(cfg.GetInt64("general", "connection_timeout_sec", 60)) * time.Second
	pool := worker.NewPool(numWorkers, connectionTimeout, log)
	defer pool.Close()

	localID := localPeerID(log)
	dnsZone := cfg.GetString("transport", "dns_tunnel_zone", "corenet.invalid")
	dnsResolver := cfg.GetString("transport", "dns_tunnel_resolver", "127.0.0.1:53")

	transportReg := transport.NewRegistry(log)
	for _, t := range []*transport.Transport{
		transport.NewHTTP(),
		transport.NewUDPBasic(),
		transport.NewUDPReliable(),
		transport.NewWebSocket(),
		transport.NewTLSDirect(nil, nil),
		transport.NewUDPQUICLike(localID),
		transport.NewDNSTunnel(dnsZone, dnsResolver),
	} {
		if err := transportReg.Register(t); err != nil {
			log.WithError(err).Errorf("corenetd: register transport %s", t.Name)
		}
	}

	clusterReg := cluster.NewRegistry(log)

	driverName := cfg.GetString("global_db", "driver", "memdriver")
	var drv gdb.Driver
	if driverName == "memdriver" {
		drv = gdb.NewMemDriver()
	} else {
		parent := cfg.GetPath("global_db", "path", "./var/lib/corenet")
		dbPath, err := gdb.Open(driverName, parent)
		if err != nil {
			log.WithError(err).Fatal("corenetd: global-db driver selection failed")
		}
		log.Fatalf("corenetd: concrete backend %q at %s is out of core scope; link a driver implementation", driverName, dbPath)
	}

	linkMgr := link.NewManager(drv, link.Callbacks{
		FillHostPort: func(l *link.Link) (string, uint16, bool) { return "", 0, false },
		LinkRequest:  func(netName string) { log.Debugf("corenetd: network %s below min uplinks", netName) },
		Connected:    func(l *link.Link, netName string) { log.Infof("corenetd: link %s connected on %s", l.Addr, netName) },
		Disconnected: func(l *link.Link, netName string, peerCount int) {
			log.Infof("corenetd: link %s disconnected from %s (%d peers remain)", l.Addr, netName, peerCount)
		},
	}, log)
	defer linkMgr.Close()

	registry := cli.NewCommandRegistry()
	mustRegister(log, cli.RegisterClusterCommands(registry, clusterReg))
	mustRegister(log, cli.RegisterLinkCommands(registry, linkMgr))
	mustRegister(log, cli.RegisterGDBCommands(registry, drv))
	mustRegister(log, cli.RegisterTransportCommands(registry, transportReg))
	mustRegister(log, cli.RegisterHelpCommand(registry))

	server := cli.NewServer(registry, log)
	server.SetAccessControl(
		cfg.GetBool("cli", "allowed_cmd_control", false),
		cfg.GetArray("cli", "allowed_commands", nil),
	)
	server.SetStatsCallback(func(method string, dur time.Duration) {
		log.WithFields(logrus.Fields{"method": method, "duration": dur}).Debug("corenetd: command served")
	})

	addr := cfg.GetString("cli", "listen", "127.0.0.1:8079")
	go func() {
		log.Infof("corenetd: CLI/JSON-RPC admin channel listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil {
			log.WithError(err).Error("corenetd: admin channel stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("corenetd: shutting down")
}

func mustRegister(log *logrus.Logger, err error) {
	if err != nil {
		log.WithError(err).Fatal("corenetd: command registration failed")
	}
}

// localPeerID generates an ephemeral Ed25519 libp2p identity for tagging
// the UDP_QUIC_LIKE transport; corenetd doesn't otherwise need a libp2p
// host, so a full host is not worth standing up just to read its ID.
func localPeerID(log *logrus.Logger) peer.ID {
	_, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		log.WithError(err).Warn("corenetd: generating QUIC_LIKE peer identity failed")
		return ""
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		log.WithError(err).Warn("corenetd: deriving peer id failed")
		return ""
	}
	return id
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
