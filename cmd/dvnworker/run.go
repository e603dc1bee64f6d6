package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethdb/pebble"
	"github.com/ethereum/go-ethereum/log"
	"github.com/nori-zk/dvn-worker/cmd/utils"
	"github.com/nori-zk/dvn-worker/dvn"
	"github.com/nori-zk/dvn-worker/dvn/archive"
	"github.com/nori-zk/dvn-worker/dvn/events"
	"github.com/nori-zk/dvn-worker/dvn/finality"
	"github.com/nori-zk/dvn-worker/dvn/listener"
	"github.com/nori-zk/dvn-worker/dvn/relay"
	"github.com/nori-zk/dvn-worker/dvn/store"
	"github.com/nori-zk/dvn-worker/dvn/submit"
	"github.com/nori-zk/dvn-worker/dvn/zkproof"
	"github.com/nori-zk/dvn-worker/internal/tracing"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const (
	dbCache   = 64
	dbHandles = 128
)

func runWorker(ctx *cli.Context) error {
	cfg, err := utils.LoadConfig(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Mode.Degraded() {
		log.Warn("Running in degraded mode: failed service calls are replaced with unverifiable placeholders")
	}

	sigctx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(sigctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("Failed to flush traces", "err", err)
		}
	}()

	db, err := store.Open(cfg.DataDir, dbCache, dbHandles)
	if err != nil {
		return err
	}
	defer db.Close()

	src, err := ethclient.DialContext(sigctx, cfg.Listener.URL)
	if err != nil {
		return fmt.Errorf("dial source chain: %w", err)
	}
	defer src.Close()
	dst, err := ethclient.DialContext(sigctx, cfg.DestRPC)
	if err != nil {
		return fmt.Errorf("dial destination chain: %w", err)
	}
	defer dst.Close()

	key, err := submit.ParsePrivateKey(cfg.SignerKey)
	if err != nil {
		return &dvn.ConfigError{Field: "signer key", Err: err}
	}
	chainID, err := dst.ChainID(sigctx)
	if err != nil {
		return fmt.Errorf("destination chain id: %w", err)
	}
	engine, err := submit.New(sigctx, cfg.Submit, dst, submit.NewLocalECDSASigner(chainID, key))
	if err != nil {
		return err
	}
	defer engine.Close()

	attester, err := relay.New(cfg.Relay, cfg.Mode)
	if err != nil {
		return &dvn.ConfigError{Field: "relay", Err: err}
	}
	prover, err := zkproof.New(cfg.Proof, cfg.Mode)
	if err != nil {
		return &dvn.ConfigError{Field: "proof", Err: err}
	}
	source, err := listener.New(cfg.Listener, cfg.Endpoints, events.PacketSentTopic, src, db)
	if err != nil {
		return &dvn.ConfigError{Field: "listener", Err: err}
	}

	deps := dvn.Deps{
		Decoder:   events.NewDecoder(events.Options{Emitters: cfg.Endpoints, DstEid: cfg.DstEid}),
		Source:    source,
		Finality:  finality.NewGate(src, cfg.Finality),
		Attester:  attester,
		Prover:    prover,
		Submitter: engine,
		Store:     db,
	}
	admin := dvn.AdminOptions{Relay: attester}
	if cfg.Archive.Enabled() {
		arc, kv, err := openArchive(sigctx, cfg.Archive)
		if err != nil {
			return err
		}
		if kv != nil {
			defer kv.Close()
			admin.Bundles = func(id common.Hash) (any, error) { return kv.Bundle(id) }
		}
		deps.Archive = arc
	}

	worker, err := dvn.NewWorker(cfg.Pipeline, deps)
	if err != nil {
		return err
	}
	log.Info("Starting DVN worker", "mode", cfg.Mode, "signer", engine.From(), "contract", cfg.Submit.Contract,
		"endpoints", len(cfg.Endpoints), "confirmations", cfg.Finality.Threshold, "datadir", cfg.DataDir)

	g, gctx := errgroup.WithContext(sigctx)
	g.Go(func() error { return worker.Run(gctx) })
	if cfg.AdminAddr != "" {
		g.Go(func() error { return worker.ServeAdmin(gctx, cfg.AdminAddr, admin) })
	}
	return g.Wait()
}

// openArchive builds the configured bundle sinks. The returned kv sink, if
// any, must be closed by the caller.
func openArchive(ctx context.Context, cfg archive.Config) (_ *archive.Archive, kv *archive.KVSink, err error) {
	var sinks []archive.Sink
	defer func() {
		if err != nil && kv != nil {
			kv.Close()
		}
	}()
	if cfg.KVDir != "" {
		db, err := pebble.New(filepath.Join(cfg.KVDir, "bundles"), dbCache, dbHandles, "dvn/archive/", false)
		if err != nil {
			return nil, nil, fmt.Errorf("open bundle archive: %w", err)
		}
		kv = archive.NewKVSink(db)
		sinks = append(sinks, kv)
	}
	if cfg.S3Bucket != "" {
		s3, err := archive.NewS3Sink(ctx, cfg.S3Options())
		if err != nil {
			return nil, kv, err
		}
		sinks = append(sinks, s3)
	}
	if cfg.AzureContainer != "" {
		az, err := archive.NewAzureSink(cfg.AzureConnectionString, cfg.AzureContainer)
		if err != nil {
			return nil, kv, err
		}
		sinks = append(sinks, az)
	}
	arc, err := archive.New(cfg, sinks...)
	if err != nil {
		return nil, kv, err
	}
	log.Info("Proof bundle archive enabled", "sinks", len(sinks), "ttl", cfg.TTL)
	return arc, kv, nil
}
