package main

import (
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/duskrelay/soegateway/internal/config"
	"github.com/duskrelay/soegateway/internal/demux"
	"github.com/duskrelay/soegateway/pkg/logger"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath      string
		listenOverride  string
		bufferOverride  uint32
		recencyOverride uint16
	)

	cmd := &cobra.Command{
		Use:   "soegatewayd",
		Short: "Reliable UDP session gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listenOverride != "" {
				cfg.ListenAddr = listenOverride
			}
			if bufferOverride != 0 {
				cfg.InitialBuffer = bufferOverride
			}
			if recencyOverride != 0 {
				cfg.RecencyLimit = recencyOverride
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a config file (yaml/json/toml)")
	cmd.Flags().StringVar(&listenOverride, "listen", "", "UDP listen address (overrides config)")
	cmd.Flags().Uint32Var(&bufferOverride, "buffer-size", 0, "initial negotiated buffer size (overrides config)")
	cmd.Flags().Uint16Var(&recencyOverride, "recency-limit", 0, "reorder window width (overrides config)")

	return cmd
}

// gateway owns the UDP socket and the demultiplexer, and runs the three
// loops a peer connection needs: receive, tick (drain+send), and idle
// sweep. Grounded on the teacher's Server type (listen/updateLoop/
// sessionCleanupLoop), generalized from SA-MP's game socket to this
// protocol's demultiplexer.
type gateway struct {
	conn    *net.UDPConn
	mgr     *demux.Manager
	cfg     config.Config
	running atomic.Bool
}

func run(cfg config.Config) error {
	logger.Banner("SOE Gateway", version)

	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	g := &gateway{
		conn: conn,
		mgr:  demux.NewManager(cfg.InitialBuffer, cfg.RecencyLimit),
		cfg:  cfg,
	}
	g.running.Store(true)
	g.registerEventLogging()

	logger.Info("listening on %s", cfg.ListenAddr)
	logger.Info("initial buffer size: %d, recency limit: %d", cfg.InitialBuffer, cfg.RecencyLimit)
	logger.Success("gateway ready")

	go g.receiveLoop()
	go g.tickLoop()
	go g.sweepLoop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	logger.Warn("shutting down gateway")
	g.running.Store(false)
	conn.Close()
	time.Sleep(100 * time.Millisecond)
	logger.Success("gateway stopped")
	return nil
}

func (g *gateway) registerEventLogging() {
	g.mgr.Events().Register(demux.EventChannelEstablished, func(ev demux.Event) {
		logger.Success("channel established: %s", ev.Addr)
	})
	g.mgr.Events().Register(demux.EventChannelClosed, func(ev demux.Event) {
		logger.Warn("channel closed: %s (reason %d)", ev.Addr, ev.Reason)
	})
	g.mgr.Events().Register(demux.EventChannelTimedOut, func(ev demux.Event) {
		logger.Warn("channel timed out: %s", ev.Addr)
	})
}

func (g *gateway) receiveLoop() {
	buf := make([]byte, 2048)
	for g.running.Load() {
		n, addr, err := g.conn.ReadFromUDP(buf)
		if err != nil {
			if g.running.Load() {
				logger.Error("reading UDP packet: %v", err)
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		delivered, err := g.mgr.HandleDatagram(addr.String(), data)
		if err != nil {
			logger.Warn("channel %s torn down: %v", addr, err)
			continue
		}
		for _, payload := range delivered {
			logger.Debug("delivered %d bytes from %s", len(payload), addr)
		}
	}
}

func (g *gateway) tickLoop() {
	ticker := time.NewTicker(g.cfg.TickInterval)
	defer ticker.Stop()

	for g.running.Load() {
		<-ticker.C
		frames := g.mgr.Tick(g.cfg.MaxBatchPerPeer)
		for addrStr, datagrams := range frames {
			addr, err := net.ResolveUDPAddr("udp", addrStr)
			if err != nil {
				logger.Error("resolving peer address %s: %v", addrStr, err)
				continue
			}
			for _, d := range datagrams {
				if _, err := g.conn.WriteToUDP(d, addr); err != nil {
					logger.Error("writing to %s: %v", addrStr, err)
				}
			}
		}
	}
}

func (g *gateway) sweepLoop() {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()

	for g.running.Load() {
		<-ticker.C
		g.mgr.SweepIdle(g.cfg.IdleTimeout)
	}
}
