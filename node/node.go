// Package node wires the storage, access oracle, collaboration core and
// HTTP surface together and manages their lifecycle.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/openboard/openboard/api"
	"github.com/openboard/openboard/auth"
	"github.com/openboard/openboard/cmd/flags"
	"github.com/openboard/openboard/collab"
	"github.com/openboard/openboard/db/kv"
	"github.com/openboard/openboard/runtime"
)

var log = logrus.WithField("prefix", "node")

// Node holds every long-running service of the whiteboard server.
type Node struct {
	ctx      context.Context
	cancel   context.CancelFunc
	services *runtime.ServiceRegistry
	store    *kv.Store
	stop     chan struct{}
}

// New opens storage and registers all services from the CLI context.
func New(cliCtx *cli.Context) (*Node, error) {
	ctx, cancel := context.WithCancel(cliCtx.Context)
	node := &Node{
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	store, err := kv.NewStore(cliCtx.String(flags.DataDirFlag.Name))
	if err != nil {
		cancel()
		return nil, err
	}
	node.store = store

	oracle := auth.NewOracle(&auth.Config{
		Secret:   cliCtx.String(flags.JWTSecretFlag.Name),
		Database: store,
	})
	collabServer := collab.NewServer(ctx, &collab.ServerConfig{
		Manager: collab.NewManager(),
		Oracle:  oracle,
		Store:   store,
	})
	httpAddr := fmt.Sprintf("%s:%d",
		cliCtx.String(flags.HostFlag.Name),
		cliCtx.Int(flags.PortFlag.Name),
	)
	apiServer := api.New(ctx, &api.Config{
		HTTPAddr:          httpAddr,
		AllowedOrigins:    cliCtx.StringSlice(flags.AllowedOriginsFlag.Name),
		Oracle:            oracle,
		Database:          store,
		Collab:            collabServer,
		DisableMonitoring: cliCtx.Bool(flags.DisableMonitoringFlag.Name),
	})
	if err := node.services.RegisterService(apiServer); err != nil {
		cancel()
		return nil, err
	}
	return node, nil
}

// Start launches all services and blocks until the process is told to
// shut down.
func (n *Node) Start() {
	n.services.StartAll()

	stop := n.stop
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.WithField("signal", sig).Info("Received interrupt, shutting down...")
		n.Close()
	}()

	<-stop
}

// Close stops all services in reverse order and releases storage.
func (n *Node) Close() {
	n.services.StopAll()
	if err := n.store.Close(); err != nil {
		log.WithError(err).Error("Could not close database")
	}
	n.cancel()
	close(n.stop)
}
