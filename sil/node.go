package sil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/ecoware/microsim/core/controller"
)

// ComputeNode is the actuator proxy for one physical or virtual computing
// node. Its power mode is mutated only through the event-merge step, never
// concurrently by two writers.
type ComputeNode struct {
	name    string
	address string
	client  *http.Client

	mu   sync.RWMutex
	mode controller.PowerMode
}

// NewComputeNode creates a node proxy starting in normal mode.
func NewComputeNode(name, address string) (*ComputeNode, error) {
	if name == "" {
		return nil, fmt.Errorf("sil: node name must not be empty")
	}
	if address == "" {
		return nil, fmt.Errorf("sil: node %q needs an address", name)
	}
	return &ComputeNode{
		name:    name,
		address: address,
		client:  &http.Client{},
		mode:    controller.Normal,
	}, nil
}

// Name returns the node identifier.
func (n *ComputeNode) Name() string { return n.name }

// Mode returns the current power mode.
func (n *ComputeNode) Mode() controller.PowerMode {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.mode
}

// SetMode records the new power mode and reports whether it changed.
func (n *ComputeNode) SetMode(mode controller.PowerMode) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.mode == mode {
		return false
	}
	n.mode = mode
	return true
}

// Notify pushes the current power mode to the remote node. It is issued from
// short-lived fire-and-forget tasks; failures are for the caller to log,
// never to propagate into the step loop.
func (n *ComputeNode) Notify(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"power_mode": string(n.Mode())})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, n.address+"/power_mode", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sil: notify node %q: %w", n.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sil: notify node %q: status %d", n.name, resp.StatusCode)
	}
	return nil
}
