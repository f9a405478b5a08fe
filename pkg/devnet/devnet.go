// Package devnet runs a ledger node, its API and an attested-environment
// daemon in one process.
package devnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tricodex/ethdam-2025-sub001/params"
	"github.com/tricodex/ethdam-2025-sub001/pkg/api"
	"github.com/tricodex/ethdam-2025-sub001/pkg/app"
	"github.com/tricodex/ethdam-2025-sub001/pkg/enclave"
	"github.com/tricodex/ethdam-2025-sub001/pkg/util"
)

type Options struct {
	Config   params.Config
	Socket   string // defaults to Config.Enclave.Socket
	InMemory bool
	Clock    util.Clock
	Log      *zap.SugaredLogger
}

type Devnet struct {
	App     *app.App
	API     *api.Server
	Daemon  *enclave.Daemon
	NodeURL string
	Socket  string

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Start brings every component up and returns once the daemon socket accepts
// connections.
func Start(ctx context.Context, opts Options) (*Devnet, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg := opts.Config
	socket := opts.Socket
	if socket == "" {
		socket = cfg.Enclave.Socket
	}
	if cfg.Enclave.AppID == "" {
		cfg.Enclave.AppID = cfg.Ledger.AppID
	}

	enclaveApp, err := cfg.Enclave.AttestedAppID()
	if err != nil {
		return nil, fmt.Errorf("enclave app_id: %w", err)
	}
	ledgerApp, err := cfg.Ledger.OracleAppID()
	if err != nil {
		return nil, fmt.Errorf("ledger app_id: %w", err)
	}
	if enclaveApp != ledgerApp {
		log.Warnw("app_id_mismatch", "ledger", ledgerApp.String(), "enclave", enclaveApp.String())
	}

	secret, err := enclave.MasterSecret(cfg.Enclave.MasterSecret, log)
	if err != nil {
		return nil, err
	}

	a, err := app.New(app.Options{
		Ledger:   cfg.Ledger,
		Node:     cfg.Node,
		InMemory: opts.InMemory,
		Clock:    opts.Clock,
		Log:      log,
	})
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", cfg.Node.APIAddr)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("listen %s: %w", cfg.Node.APIAddr, err)
	}
	nodeURL := "http://" + ln.Addr().String()
	if strings.HasPrefix(cfg.Node.APIAddr, ":") {
		nodeURL = fmt.Sprintf("http://127.0.0.1:%d", ln.Addr().(*net.TCPAddr).Port)
	}

	daemon, err := enclave.New(enclave.Config{
		AppID:          enclaveApp,
		MasterSecret:   secret,
		ChainID:        cfg.Ledger.ChainID,
		ConfirmTimeout: cfg.Enclave.ConfirmTimeout,
		TxTTL:          cfg.Enclave.TxTTL,
	}, api.NewClient(nodeURL, cfg.Enclave.ConfirmTimeout), opts.Clock, log.Named("appd"))
	if err != nil {
		ln.Close()
		a.Close()
		return nil, err
	}
	a.Registry.Endorse(enclaveApp, daemon.AttestationAddress())

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	d := &Devnet{
		App:     a,
		API:     api.NewServer(a.Node, cfg.Node.CORSOrigins, log.Named("api")),
		Daemon:  daemon,
		NodeURL: nodeURL,
		Socket:  socket,
		cancel:  cancel,
		group:   g,
	}
	g.Go(func() error { return d.API.Serve(gctx, ln) })
	g.Go(func() error { return a.Node.Run(gctx) })
	g.Go(func() error { return daemon.Serve(gctx, socket) })

	if err := waitForSocket(gctx, socket, 5*time.Second); err != nil {
		d.Close()
		return nil, err
	}
	log.Infow("devnet_ready", "node_url", nodeURL, "socket", socket, "attestation_key", daemon.AttestationAddress().Hex())
	return d, nil
}

// Wait blocks until a component fails or the devnet is closed.
func (d *Devnet) Wait() error { return d.group.Wait() }

func (d *Devnet) Close() error {
	d.cancel()
	err := d.group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, d.App.Close())
}

func waitForSocket(ctx context.Context, path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("appd socket %s not ready after %s", path, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}
