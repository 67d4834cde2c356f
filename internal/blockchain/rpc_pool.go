// ====================================
// File: internal/blockchain/rpc_pool.go
// ====================================
package blockchain

import (
	"sync/atomic"

	"github.com/gagliardetto/solana-go/rpc"
)

// rpcPool rotates across RPC endpoints. A failed call advances the cursor so
// the next request lands on a different endpoint.
type rpcPool struct {
	clients []*rpc.Client
	cursor  atomic.Uint64
}

func newRPCPool(endpoints []string) *rpcPool {
	clients := make([]*rpc.Client, 0, len(endpoints))
	for _, endpoint := range endpoints {
		clients = append(clients, rpc.New(endpoint))
	}
	return &rpcPool{clients: clients}
}

func (p *rpcPool) get() *rpc.Client {
	return p.clients[p.cursor.Load()%uint64(len(p.clients))]
}

func (p *rpcPool) advance() {
	p.cursor.Add(1)
}
