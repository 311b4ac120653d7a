package gateserver

import (
	"time"

	"github.com/ppn-systems/orion/internal/config"
	"github.com/ppn-systems/orion/internal/model"
	"github.com/ppn-systems/orion/internal/protocol"
)

// RegisterOperations installs the standard operation set. The descriptor
// table is the single source of truth for required levels, encryption
// requirements, timeouts, and per-handler rate limits.
func RegisterOperations(r *Registry, cfg config.GateServer) {
	r.Register(HandlerDesc{
		Opcode:        protocol.OpcodeHandshake,
		Name:          "handshake",
		RequiredLevel: model.LevelNone,
		Timeout:       cfg.HandlerTimeout,
		RateLimit:     &RateLimit{MaxCalls: 3, Window: 10 * time.Second},
		Handler:       handleHandshake,
	})
	r.Register(HandlerDesc{
		Opcode:             protocol.OpcodeRegister,
		Name:               "register",
		RequiredLevel:      model.LevelGuest,
		RequiresEncryption: true,
		Timeout:            cfg.HandlerTimeout,
		RateLimit:          &RateLimit{MaxCalls: 3, Window: time.Minute},
		Handler:            handleRegister,
	})
	r.Register(HandlerDesc{
		Opcode:             protocol.OpcodeLogin,
		Name:               "login",
		RequiredLevel:      model.LevelGuest,
		RequiresEncryption: true,
		Timeout:            cfg.HandlerTimeout,
		RateLimit:          &RateLimit{MaxCalls: 10, Window: time.Minute},
		Handler:            handleLogin,
	})
	r.Register(HandlerDesc{
		Opcode:        protocol.OpcodeLogout,
		Name:          "logout",
		RequiredLevel: model.LevelUser,
		Timeout:       cfg.HandlerTimeout,
		Handler:       handleLogout,
	})
	r.Register(HandlerDesc{
		Opcode:             protocol.OpcodeChangePassword,
		Name:               "change_password",
		RequiredLevel:      model.LevelUser,
		RequiresEncryption: true,
		Timeout:            cfg.HandlerTimeout,
		RateLimit:          &RateLimit{MaxCalls: 5, Window: time.Minute},
		Handler:            handleChangePassword,
	})
}
