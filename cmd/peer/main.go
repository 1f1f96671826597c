package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/rpc"
	"os"
	"os/signal"
	fp "path/filepath"
	"syscall"

	dslvl "github.com/ipfs/go-ds-leveldb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pyropy/dbs/core/channel"
	"github.com/pyropy/dbs/core/chunkstore"
	"github.com/pyropy/dbs/core/metrics"
	"github.com/pyropy/dbs/core/peer"
	"github.com/pyropy/dbs/lib/logger"
)

var log, _ = logger.New("peer")

func main() {
	if err := run(); err != nil {
		log.Fatalln("startup", "ERROR", err)
	}
}

func run() error {
	cfg, err := peer.GetConfig()
	if err != nil {
		log.Errorw("startup", "error", "config error")
		return err
	}

	peerLog := log.With("peer", cfg.Peer.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.Peer.DataDir, 0750); err != nil {
		return err
	}

	db, err := dslvl.NewDatastore(fp.Join(cfg.Peer.DataDir, "metadata"), nil)
	if err != nil {
		log.Errorw("startup", "error", "failed to open metadata store")
		return err
	}
	defer db.Close()

	store, err := chunkstore.Open(ctx, cfg.Peer.DataDir, db, cfg.CapacityBytes())
	if err != nil {
		log.Errorw("startup", "error", "failed to open chunk store")
		return err
	}

	channels, closeChannels, err := openChannels(cfg)
	if err != nil {
		log.Errorw("startup", "error", "failed to join multicast groups")
		return err
	}
	defer closeChannels()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p := peer.NewPeer(cfg, store, peer.NewFileMetadataStore(db), channels,
		peer.WithLogger(peerLog),
		peer.WithMetrics(metrics.New(registry, cfg.Peer.ID)),
	)

	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		go func() {
			log.Infow("startup", "status", "metrics server started", "address", cfg.Server.MetricsAddr)
			if err := http.ListenAndServe(cfg.Server.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("metrics", "error", err)
			}
		}()
	}

	rpc.Register(NewPeerAPI(ctx, p))
	rpc.HandleHTTP()

	l, err := net.Listen("tcp", cfg.Server.RPCAddr)
	if err != nil {
		log.Errorw("startup", "error", "net listen failed")
		return err
	}

	listenAddr := l.Addr().String()

	log.Infow("startup", "status", "peer rpc server started", "address", listenAddr, "peer", cfg.Peer.ID)
	defer log.Infow("shutdown", "status", "peer rpc server stopped", "address", listenAddr)
	go http.Serve(l, nil)

	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-shutdown:
		log.Infow("shutdown", "status", "peer stopping", "address", listenAddr)
	case err := <-done:
		if err != nil {
			log.Errorw("shutdown", "error", err)
			return err
		}
	}

	cancel()
	l.Close()

	return <-done
}

// openChannels joins the three multicast groups behind one shared sending
// socket.
func openChannels(cfg *peer.Config) (peer.Channels, func(), error) {
	var iface *net.Interface
	if cfg.Multicast.Interface != "" {
		var err error
		iface, err = net.InterfaceByName(cfg.Multicast.Interface)
		if err != nil {
			return peer.Channels{}, nil, err
		}
	}

	sender, err := channel.NewSender(cfg.Multicast.SenderPort, cfg.Multicast.TTL, cfg.Multicast.Loopback, iface)
	if err != nil {
		return peer.Channels{}, nil, err
	}

	var opened []*channel.Multicast
	closeAll := func() {
		for _, c := range opened {
			c.Close()
		}
		sender.Close()
	}

	groups := []struct {
		kind channel.Kind
		addr string
	}{
		{channel.Control, cfg.Multicast.Control},
		{channel.BackupData, cfg.Multicast.Backup},
		{channel.RestoreData, cfg.Multicast.Restore},
	}

	for _, g := range groups {
		c, err := channel.OpenMulticast(g.kind, g.addr, iface, sender, log.With("channel", g.kind))
		if err != nil {
			closeAll()
			return peer.Channels{}, nil, err
		}
		opened = append(opened, c)
	}

	return peer.Channels{
		Control: opened[0],
		Backup:  opened[1],
		Restore: opened[2],
	}, closeAll, nil
}
