package gateserver

import (
	"github.com/ppn-systems/orion/internal/config"
	"github.com/ppn-systems/orion/internal/limiter"
	"github.com/ppn-systems/orion/internal/metrics"
	"github.com/ppn-systems/orion/internal/pool"
	"github.com/ppn-systems/orion/internal/protocol"
)

// ServerContext carries the process-wide collaborators, built explicitly
// at startup and handed to the server, dispatchers, and handlers. There is
// no global service locator.
type ServerContext struct {
	Cfg      config.GateServer
	Hub      *Hub
	Registry *Registry
	Accounts AccountRepository
	Packets  *protocol.PacketPool
	ReadBufs *pool.BytePool
	SendBufs *pool.BytePool
	Inflight *limiter.Inflight
	Metrics  *metrics.Metrics
}

// NewServerContext assembles the server context with the default operation
// set registered and frozen.
func NewServerContext(cfg config.GateServer, accounts AccountRepository, m *metrics.Metrics) *ServerContext {
	sctx := &ServerContext{
		Cfg:      cfg,
		Hub:      NewHub(),
		Registry: NewRegistry(),
		Accounts: accounts,
		Packets:  protocol.NewPacketPool(cfg.PacketPoolSize),
		ReadBufs: pool.NewBytePool(4096),
		SendBufs: pool.NewBytePool(1024),
		Inflight: limiter.NewInflight(cfg.MaxInflight),
		Metrics:  m,
	}
	RegisterOperations(sctx.Registry, cfg)
	sctx.Registry.Freeze()
	return sctx
}
