package runtime_test

import (
	"chat-relay/domain"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOrchestrator_LoadTest(t *testing.T) {
	if testing.Short() {
		t.Skip("load test")
	}
	req := require.New(t)
	ctx := context.Background()

	cfg := defaultConfig()
	cfg.NumWorkers = 4
	cfg.BufferSize = 5000
	cfg.Ledger.MaxBacklogPerUser = 10_000
	o := startOrchestrator(t, cfg, nil)

	// 1. Every client holds one auto acknowledging connection
	numClients := 100
	messagesPerClient := 200
	for i := 0; i < numClients; i++ {
		connID := domain.ConnectionID(fmt.Sprintf("conn-%d", i))
		sink := &RecordingSink{connID: connID, relay: o}
		req.NoError(o.Register(ctx, domain.UserID(fmt.Sprintf("user-%d", i)), connID, sink))
	}

	// 2. Variables de mesure
	var successCount atomic.Uint64
	var failureCount atomic.Uint64
	var lastID atomic.Uint64

	start := time.Now()
	var wg sync.WaitGroup

	// 3. Simulation du trafic, each client writes to its neighbour
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			sender := domain.UserID(fmt.Sprintf("user-%d", clientID))
			receiver := domain.UserID(fmt.Sprintf("user-%d", (clientID+1)%numClients))
			for j := 0; j < messagesPerClient; j++ {
				receipt, err := o.Send(ctx, domain.SendRequest{
					SenderID:   sender,
					ReceiverID: receiver,
					Payload:    []byte("Ceci est un message de test de charge"),
					Origin:     domain.ConnectionID(fmt.Sprintf("conn-%d", clientID)),
				})
				if err != nil {
					failureCount.Add(1)
					continue
				}
				successCount.Add(1)
				for {
					prev := lastID.Load()
					if uint64(receipt.MessageID) <= prev || lastID.CompareAndSwap(prev, uint64(receipt.MessageID)) {
						break
					}
				}
			}
		}(i)
	}

	wg.Wait()
	accepted := time.Since(start)

	// 4. Every accepted message reaches a terminal state
	req.Eventually(func() bool {
		for id := uint64(1); id <= lastID.Load(); id++ {
			status, ok := o.Status(domain.MessageID(id))
			if !ok || !status.Message.State.Terminal() {
				return false
			}
		}
		return true
	}, 30*time.Second, 50*time.Millisecond)
	settled := time.Since(start)

	delivered := 0
	for id := uint64(1); id <= lastID.Load(); id++ {
		if status, _ := o.Status(domain.MessageID(id)); status.Message.State == domain.Delivered {
			delivered++
		}
	}

	// 5. Résultats
	fmt.Printf("\n--- RÉSULTATS DU STRESS TEST ---\n")
	fmt.Printf("Acceptation      : %v\n", accepted)
	fmt.Printf("Livraison        : %v\n", settled)
	fmt.Printf("Messages acceptés: %d\n", successCount.Load())
	fmt.Printf("Messages rejetés : %d\n", failureCount.Load())
	fmt.Printf("Messages livrés  : %d\n", delivered)
	fmt.Printf("Débit (TPS)      : %.2f msg/sec\n", float64(successCount.Load())/settled.Seconds())
	fmt.Printf("--------------------------------\n")

	req.Zero(failureCount.Load())
	req.Equal(uint64(numClients*messagesPerClient), lastID.Load())
}

