package gateserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppn-systems/orion/internal/config"
	"github.com/ppn-systems/orion/internal/crypto"
	"github.com/ppn-systems/orion/internal/model"
	"github.com/ppn-systems/orion/internal/pool"
	"github.com/ppn-systems/orion/internal/protocol"
)

// tcpPair returns both ends of a loopback TCP connection. net.Pipe is not
// enough here: Conn parses a host:port remote address.
func tcpPair(t *testing.T) (server, client net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(done)
			return
		}
		done <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	server, ok := <-done
	require.True(t, ok, "accept failed")

	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

// newTestConn wraps the server side of a loopback pair and starts its
// write pump.
func newTestConn(t *testing.T, hub *Hub) (*Conn, net.Conn) {
	t.Helper()
	raw, peer := tcpPair(t)
	c, err := NewConn(hub.NextID(), raw, pool.NewBytePool(1024), 16, time.Second, 0)
	require.NoError(t, err)
	c.Start()
	t.Cleanup(c.Disconnect)
	return c, peer
}

// mockAccountRepository is an in-memory AccountRepository.
type mockAccountRepository struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[string]*model.Account
}

func newMockRepo() *mockAccountRepository {
	return &mockAccountRepository{accounts: make(map[string]*model.Account)}
}

// addAccount seeds an active account with the given password and role.
func (m *mockAccountRepository) addAccount(t *testing.T, username, password string, role model.Level) *model.Account {
	t.Helper()
	salt, hash, err := crypto.HashPassword([]byte(password))
	require.NoError(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	acc := &model.Account{
		ID:        m.nextID,
		Username:  username,
		Salt:      salt,
		Hash:      hash,
		Role:      role,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	m.accounts[username] = acc
	return acc
}

func (m *mockAccountRepository) GetAuthViewByUsername(ctx context.Context, username string) (*model.AuthView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[username]
	if !ok {
		return nil, nil
	}
	return &model.AuthView{
		ID:                acc.ID,
		Salt:              append([]byte(nil), acc.Salt...),
		Hash:              append([]byte(nil), acc.Hash...),
		Role:              acc.Role,
		IsActive:          acc.IsActive,
		FailedLoginCount:  acc.FailedLoginCount,
		LastFailedLoginAt: acc.LastFailedLoginAt,
	}, nil
}

func (m *mockAccountRepository) GetForPasswordChangeByUsername(ctx context.Context, username string) (*model.PasswordView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[username]
	if !ok {
		return nil, nil
	}
	return &model.PasswordView{
		ID:       acc.ID,
		Salt:     append([]byte(nil), acc.Salt...),
		Hash:     append([]byte(nil), acc.Hash...),
		IsActive: acc.IsActive,
	}, nil
}

func (m *mockAccountRepository) InsertOrIgnore(ctx context.Context, username string, salt, hash []byte, role model.Level) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[username]; exists {
		return 0, nil
	}
	m.nextID++
	m.accounts[username] = &model.Account{
		ID:        m.nextID,
		Username:  username,
		Salt:      append([]byte(nil), salt...),
		Hash:      append([]byte(nil), hash...),
		Role:      role,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	return m.nextID, nil
}

func (m *mockAccountRepository) byID(id int64) *model.Account {
	for _, acc := range m.accounts {
		if acc.ID == id {
			return acc
		}
	}
	return nil
}

func (m *mockAccountRepository) IncrementFailed(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc := m.byID(id); acc != nil {
		acc.FailedLoginCount++
		stamp := at
		acc.LastFailedLoginAt = &stamp
	}
	return nil
}

func (m *mockAccountRepository) ResetFailedAndStampLogin(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc := m.byID(id); acc != nil {
		acc.FailedLoginCount = 0
		stamp := at
		acc.LastLoginAt = &stamp
	}
	return nil
}

func (m *mockAccountRepository) StampLogout(ctx context.Context, username string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[username]; ok {
		stamp := at
		acc.LastLogoutAt = &stamp
	}
	return nil
}

func (m *mockAccountRepository) UpdatePasswordIfMatches(ctx context.Context, id int64, oldHash, newSalt, newHash []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.byID(id)
	if acc == nil {
		return 0, nil
	}
	if string(acc.Hash) != string(oldHash) {
		return 0, nil
	}
	acc.Salt = append([]byte(nil), newSalt...)
	acc.Hash = append([]byte(nil), newHash...)
	return 1, nil
}

// newTestContext builds a ServerContext over the mock repository with fast
// test-friendly limits.
func newTestContext(repo AccountRepository) *ServerContext {
	cfg := config.DefaultGateServer()
	cfg.HandlerTimeout = 2 * time.Second
	cfg.DispatchQueueSize = 8
	return NewServerContext(cfg, repo, nil)
}

// credsPacket builds a plaintext Credentials packet with both the decoded
// body (for direct handler calls) and the encoded payload (for the unwrap
// stage) populated.
func credsPacket(opcode protocol.Opcode, username, password string, seq uint32) *protocol.Packet {
	body := &protocol.CredentialsBody{Username: username, Password: password}
	buf := make([]byte, 1024)
	n, err := body.EncodePayload(buf)
	if err != nil {
		panic(err)
	}
	p := &protocol.Packet{
		Header: protocol.Header{Magic: protocol.MagicCredentials, Opcode: opcode, Sequence: seq},
		Body:   body,
	}
	p.SetPayload(buf[:n])
	return p
}
