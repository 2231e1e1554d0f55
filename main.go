package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cargohold/api"
	"cargohold/catalog"
	"cargohold/chunkstore"
	"cargohold/cluster"
	"cargohold/config"
	"cargohold/multipart"
	"cargohold/raftfsm"
	"cargohold/sigv4"
)

var (
	flagID             string
	flagHTTPAddr       string
	flagRPCAddr        string
	flagLeaderHTTPAddr string
	flagAccessKey      string
	flagSecretKey      string
	flagDataDir        string
)

func main() {
	root := &cobra.Command{
		Use:   "cargohold",
		Short: "A replicated, content-addressed object store with an S3-compatible HTTP surface",
		RunE:  run,
	}

	root.Flags().StringVar(&flagID, "id", "node1", "Raft server id")
	root.Flags().StringVar(&flagHTTPAddr, "http-addr", "127.0.0.1:8443", "address to serve the S3-compatible HTTP API on")
	root.Flags().StringVar(&flagRPCAddr, "rpc-addr", "127.0.0.1:8444", "address to serve Raft's internal RPC transport on")
	root.Flags().StringVar(&flagLeaderHTTPAddr, "leader-http-addr", "", "an existing leader's http-addr to join through; omit to bootstrap a new cluster")
	root.Flags().StringVar(&flagAccessKey, "access-key", "", "SigV4 access key (defaults to minioadmin)")
	root.Flags().StringVar(&flagSecretKey, "secret-key", "", "SigV4 secret key (defaults to minioadmin)")
	root.Flags().StringVar(&flagDataDir, "data-dir", "", "data directory root (defaults to the current working directory)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cargohold: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagID, flagDataDir, flagHTTPAddr, flagRPCAddr, flagLeaderHTTPAddr, flagAccessKey, flagSecretKey)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := config.NewLogger(cfg.NodeID)

	chunks := chunkstore.New(cfg.DataDir, log)
	cat := catalog.New(cfg.DataDir, cfg.MetaKey)
	mp := multipart.New(cfg.DataDir, cat, chunks)
	fsm := raftfsm.New(cat, chunks, mp, log)

	node, err := cluster.New(cfg.NodeID, cfg.DataDir, cfg.RPCAddr, fsm, log)
	if err != nil {
		return fmt.Errorf("start raft node: %w", err)
	}

	if cfg.LeaderHTTPAddr == "" {
		log.Info().Msg("bootstrapping new single-node cluster")
		if err := node.Init(cfg.HTTPAddr, cfg.RPCAddr); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
	} else {
		log.Info().Str("leader", cfg.LeaderHTTPAddr).Msg("joining existing cluster")
		if err := joinCluster(cfg); err != nil {
			return fmt.Errorf("join cluster: %w", err)
		}
	}

	srv := api.New(node, cat, chunks, mp, log, cfg.HTTPAddr, cfg.RPCAddr)
	creds := sigv4.Credentials{AccessKey: cfg.AccessKey, SecretKey: cfg.SecretKey}
	router := srv.Router([]string{"*"}, creds)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("serving http")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown did not complete cleanly")
	}
	if err := node.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("raft shutdown did not complete cleanly")
	}
	return nil
}

// joinCluster asks an existing leader to add this node as a voter, the way
// a newly started replica bootstraps itself into a running cluster.
func joinCluster(cfg config.Config) error {
	body, err := json.Marshal([3]string{cfg.NodeID, cfg.HTTPAddr, cfg.RPCAddr})
	if err != nil {
		return fmt.Errorf("encode add-learner request: %w", err)
	}
	resp, err := http.Post("http://"+cfg.LeaderHTTPAddr+"/cluster/add-learner", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("call leader add-learner: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("leader add-learner returned status %d", resp.StatusCode)
	}
	return nil
}
