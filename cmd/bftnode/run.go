package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vanguardbft/consensus/bftconfig"
	"github.com/vanguardbft/consensus/bftcrypto"
	"github.com/vanguardbft/consensus/consensus/hotstuff"
	"github.com/vanguardbft/consensus/consensus/hsaf"
	"github.com/vanguardbft/consensus/consensus/vaba"
	"github.com/vanguardbft/consensus/log"
	"github.com/vanguardbft/consensus/mempool"
	"github.com/vanguardbft/consensus/metrics"
	"github.com/vanguardbft/consensus/store"
	"github.com/vanguardbft/consensus/syncer"
	"github.com/vanguardbft/consensus/types"
	"github.com/vanguardbft/consensus/utils/wrappers"
	"github.com/vanguardbft/consensus/wire"
)

// Exit codes (spec §6 "Exit codes").
const (
	exitOK              = 0
	exitConfigError     = 1
	exitRuntimeFatal    = 2
	exitStoreCorruption = 3
)

func newRunCommand() *cobra.Command {
	var keysPath, committeePath, storePath, parametersPath, protocol, metricsAddr, clientAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			runReplica(keysPath, committeePath, storePath, parametersPath, protocol, metricsAddr, clientAddr)
			return nil
		},
	}
	cmd.Flags().StringVar(&keysPath, "keys", "", "path to the Secret file")
	cmd.Flags().StringVar(&committeePath, "committee", "", "path to the Committee file")
	cmd.Flags().StringVar(&storePath, "store", "", "path to the persistent store directory")
	cmd.Flags().StringVar(&parametersPath, "parameters", "", "path to the Parameters file (optional)")
	cmd.Flags().StringVar(&protocol, "protocol", "hotstuff", "one of hotstuff, hsaf, vaba")
	cmd.Flags().StringVar(&clientAddr, "client", "", "address to accept client transactions on (benchmark_client connects here)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "address to serve prometheus metrics on (optional)")
	_ = cmd.MarkFlagRequired("keys")
	_ = cmd.MarkFlagRequired("committee")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

func runReplica(keysPath, committeePath, storePath, parametersPath, protocol, metricsAddr, clientAddr string) {
	kp, err := bftconfig.LoadSecret(keysPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(exitConfigError)
	}
	comm, committeeFile, err := bftconfig.LoadCommittee(committeePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(exitConfigError)
	}
	params := bftconfig.Default()
	if parametersPath != "" {
		params, err = bftconfig.LoadParameters(parametersPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config error:", err)
			os.Exit(exitConfigError)
		}
	}
	if protocol != "hotstuff" && protocol != "hsaf" && protocol != "vaba" {
		fmt.Fprintln(os.Stderr, "config error: --protocol must be one of hotstuff, hsaf, vaba")
		os.Exit(exitConfigError)
	}

	logger := log.New(kp.Public.String()[:8])
	addrs := bftconfig.NewAddressBook(committeeFile)

	selfAddr, ok := addrs.Address(kp.Public)
	if !ok {
		fmt.Fprintln(os.Stderr, "config error: this replica's public key is not present in the committee file")
		os.Exit(exitConfigError)
	}
	selfMempoolAddr, ok := addrs.MempoolAddress(kp.Public)
	if !ok || selfMempoolAddr == "" {
		fmt.Fprintln(os.Stderr, "config error: this replica's public key has no mempool_address in the committee file")
		os.Exit(exitConfigError)
	}

	st, err := store.Open(storePath, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "store corruption:", err)
		os.Exit(exitStoreCorruption)
	}
	oracle := bftcrypto.NewOracle(kp)
	defer func() {
		var cleanup wrappers.Errs
		cleanup.Add(st.Close())
		oracle.Close()
		if cleanup.Errored() {
			logger.Error("shutdown cleanup failed", zapErr(cleanup.Err()))
		}
	}()

	reg := metrics.New(kp.Public.String())

	consensusReceiver, err := wire.Listen(selfAddr, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "runtime fatal:", err)
		os.Exit(exitRuntimeFatal)
	}
	mempoolReceiver, err := wire.Listen(selfMempoolAddr, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "runtime fatal:", err)
		os.Exit(exitRuntimeFatal)
	}
	sender := wire.NewSender(logger)

	mpCore := mempool.NewCore(logger, kp, oracle, comm, st, sender, addrs, params)
	driver := mempool.NewDriver(mpCore)
	sy := syncer.New(logger, kp.Public, comm, st, sender, addrs, params)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sender.Run(gctx) })
	g.Go(func() error { return consensusReceiver.Run(gctx) })
	g.Go(func() error { return mempoolReceiver.Run(gctx) })
	g.Go(func() error { return mpCore.Run(gctx) })
	g.Go(func() error { return demuxMempoolInbox(gctx, mempoolReceiver, mpCore) })

	if clientAddr != "" {
		clientListener, err := mempool.ListenClients(clientAddr, logger, mpCore.ClientTxs())
		if err != nil {
			fmt.Fprintln(os.Stderr, "runtime fatal:", err)
			os.Exit(exitRuntimeFatal)
		}
		g.Go(func() error { return clientListener.Run(gctx) })
	}

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: reg.Handler()}
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	switch protocol {
	case "hotstuff":
		core := hotstuff.New(logger, kp, oracle, comm, st, sender, addrs, params, driver, sy)
		g.Go(func() error { return core.Run(gctx) })
		g.Go(func() error { return demuxConsensusInbox(gctx, consensusReceiver, sy, hotstuffAdapter{core}) })
		g.Go(func() error { return drainCommits(gctx, logger, core.Commit) })
	case "hsaf":
		core := hsaf.New(logger, kp, oracle, comm, st, sender, addrs, params, driver, sy)
		g.Go(func() error { return core.Run(gctx) })
		g.Go(func() error { return demuxConsensusInbox(gctx, consensusReceiver, sy, hsafAdapter{core}) })
		g.Go(func() error { return drainCommits(gctx, logger, core.Commit) })
	case "vaba":
		core := vaba.New(logger, kp, oracle, comm, st, sender, addrs, params, driver, sy)
		g.Go(func() error { return core.Run(gctx) })
		g.Go(func() error { return demuxConsensusInbox(gctx, consensusReceiver, sy, vabaAdapter{core}) })
		g.Go(func() error { return drainCommits(gctx, logger, core.Commit) })
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		logger.Fatal(exitRuntimeFatal, "replica terminated", zapErr(err))
	}
}

// drainCommits is the committed-block delivery sink: it consumes a core's
// Commit channel so the 3-chain/fallback commit rule never blocks waiting
// for a reader, and records each committed block's round and payload
// digests. Smart-contract execution against the committed payload is an
// explicit non-goal; this replaces the original implementation's
// execution call with a log record only.
func drainCommits(ctx context.Context, logger log.Logger, commits <-chan *types.Block) error {
	for {
		select {
		case b := <-commits:
			for _, d := range b.Payload {
				logger.Info("committed payload", zap.Uint64("round", uint64(b.Round)), zap.String("digest", d.String()))
			}
		case <-ctx.Done():
			return nil
		}
	}
}
