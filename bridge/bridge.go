// Package bridge is the process-wide composition root: it builds the
// event loop, JTAG adapter, target model, loop manager and its loopers,
// the RSP server and the raw memory request server from a single
// config.Bridge document.
package bridge

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/riscv-debug/bridge/config"
	"github.com/riscv-debug/bridge/jtag"
	"github.com/riscv-debug/bridge/jtag/proxycable"
	"github.com/riscv-debug/bridge/loopmgr"
	"github.com/riscv-debug/bridge/netio"
	"github.com/riscv-debug/bridge/reqserver"
	"github.com/riscv-debug/bridge/rsp"
	"github.com/riscv-debug/bridge/target"
)

// Bridge owns every long-lived collaborator for one configured target.
type Bridge struct {
	cfg *config.Bridge

	loop    *netio.Loop
	cable   jtag.Cable
	chain   *jtag.Chain
	adapter *jtag.Adapter

	Target  *target.Target
	Manager *loopmgr.Manager
	Ioloop  *loopmgr.Ioloop
	Reqloop *loopmgr.Reqloop

	RSP       *rsp.Server
	ReqServer *reqserver.Server
}

// New dials the JTAG proxy, discovers the chain, constructs the target
// model from cfg, and wires the loop manager's loopers and both TCP
// servers around it. Nothing is listening yet; call Run to start serving.
func New(cfg *config.Bridge, cb Callbacks) (*Bridge, error) {
	loop := netio.NewLoop()
	client := netio.NewClient(loop)

	cable, err := proxycable.Dial(client, cfg.Cable.ProxyAddr, 5*time.Second)
	if err != nil {
		return nil, errors.Annotatef(err, "dial JTAG proxy at %s", cfg.Cable.ProxyAddr)
	}
	return NewWithCable(cfg, cable, loop, cb)
}

// NewWithCable builds a Bridge around an already-connected jtag.Cable,
// skipping the proxy dial -- the seam tests use to substitute
// jtag/simcable for a real proxy connection.
func NewWithCable(cfg *config.Bridge, cable jtag.Cable, loop *netio.Loop, cb Callbacks) (*Bridge, error) {
	chain, err := jtag.DiscoverChain(cable, cfg.Chain.ForceDRLen32)
	if err != nil {
		return nil, errors.Annotatef(err, "discover JTAG chain")
	}
	glog.Infof("bridge: discovered %d JTAG device(s)", len(chain.Devices))

	adapter := jtag.NewAdapter(cable, chain, jtag.Config{})

	tcfg, err := cfg.TargetConfig()
	if err != nil {
		return nil, errors.Trace(err)
	}
	tgt, err := target.New(adapter, tcfg)
	if err != nil {
		return nil, errors.Trace(err)
	}

	mgr := loopmgr.NewManager(tgt, cfg.DebugStructAddr)
	if cfg.AvailableAddr != 0 {
		mgr.SetAvailableAddr(cfg.AvailableAddr)
	}

	ioloop := loopmgr.NewIoloop(os.Stdout, mgr)
	mgr.Add(ioloop)
	reqloop := loopmgr.NewReqloop(tgt, nil)
	mgr.Add(reqloop)
	mgr.OnExit = func(ev loopmgr.ExitEvent) {
		glog.Infof("bridge: target exited with code %d", ev.Code)
		ioloop.FireExit(ev.Code)
	}

	b := &Bridge{
		cfg:     cfg,
		loop:    loop,
		cable:   cable,
		chain:   chain,
		adapter: adapter,
		Target:  tgt,
		Manager: mgr,
		Ioloop:  ioloop,
		Reqloop: reqloop,
	}

	b.RSP = rsp.NewServer(tgt, rsp.Callbacks(cb))
	b.ReqServer = reqserver.NewServer(loop, tgt, 0)
	return b, nil
}

// Run starts the loop manager's timer, both listeners, and the reactor
// loop itself, blocking until ctx is canceled or any of them fails.
func (b *Bridge) Run(ctx context.Context) error {
	b.Manager.Start(b.loop)

	if err := b.ReqServer.Start(b.cfg.Listeners.RawPort); err != nil {
		return errors.Annotatef(err, "starting raw memory request server")
	}

	rspErrCh := make(chan error, 1)
	go func() {
		rspErrCh <- b.RSP.Serve(fmt.Sprintf(":%d", b.cfg.Listeners.RSPPort))
	}()

	loopErrCh := make(chan error, 1)
	go func() {
		loopErrCh <- b.loop.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		b.Stop()
		<-loopErrCh
		return ctx.Err()
	case err := <-rspErrCh:
		b.Stop()
		<-loopErrCh
		return errors.Annotatef(err, "RSP server")
	case err := <-loopErrCh:
		b.Stop()
		return err
	}
}

// Stop tears down every listener and the loop manager's timer, then
// stops the reactor loop.
func (b *Bridge) Stop() {
	b.Manager.Stop()
	b.ReqServer.Stop()
	if err := b.RSP.Close(); err != nil {
		glog.Warningf("bridge: closing RSP server: %v", err)
	}
	b.loop.Stop()
}
