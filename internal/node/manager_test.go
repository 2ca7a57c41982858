package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func startTestGateway(t *testing.T) (*Manager, string) {
	t.Helper()
	mgr := NewManager()
	mgr.requestTimeout = 2 * time.Second
	srv := httptest.NewServer(http.HandlerFunc(mgr.HandleUpgrade))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return mgr, url
}

func TestManager_InvokeRoundTrip(t *testing.T) {
	mgr, url := startTestGateway(t)

	reg := NewRegistry()
	reg.Register("macos.notes.search", func(ctx context.Context, args json.RawMessage) (json.RawMessage, *ResponseError) {
		return json.RawMessage(`{"found":3}`), nil
	})

	client := NewClient(ClientConfig{
		GatewayURL: url,
		Info:       NodeInfo{ID: "mac1", Name: "Mac Mini", NodeType: "macos", Version: "1.0", Capabilities: reg.Capabilities()},
	}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- client.Run(ctx) }()

	waitForNode(t, mgr, "mac1")

	result, err := mgr.Invoke(context.Background(), "macos.notes.search", "sess1", json.RawMessage(`{"q":"groceries"}`))
	if err != nil {
		t.Fatalf("Invoke: unexpected error: %v", err)
	}
	var decoded struct {
		Found int `json:"found"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if decoded.Found != 3 {
		t.Errorf("Found = %d, want 3", decoded.Found)
	}
}

func TestManager_InvokeNoNodeForTool(t *testing.T) {
	mgr, _ := startTestGateway(t)
	_, err := mgr.Invoke(context.Background(), "windows.clipboard.read", "sess1", nil)
	if err != ErrNoNodeForTool {
		t.Errorf("Invoke with no connected node: err = %v, want ErrNoNodeForTool", err)
	}
}

func TestManager_InvokeToolErrorPropagates(t *testing.T) {
	mgr, url := startTestGateway(t)

	reg := NewRegistry()
	reg.Register("macos.notes.search", func(ctx context.Context, args json.RawMessage) (json.RawMessage, *ResponseError) {
		return nil, &ResponseError{Kind: ErrKindNotAllowed, Message: "permission denied"}
	})

	client := NewClient(ClientConfig{
		GatewayURL: url,
		Info:       NodeInfo{ID: "mac2", Capabilities: reg.Capabilities()},
	}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	waitForNode(t, mgr, "mac2")

	_, err := mgr.Invoke(context.Background(), "macos.notes.search", "sess1", nil)
	if err == nil {
		t.Fatal("Invoke: expected an error from the node's ResponseError")
	}
	if !strings.Contains(err.Error(), string(ErrKindNotAllowed)) {
		t.Errorf("error %q should mention kind %q", err, ErrKindNotAllowed)
	}
}

func waitForNode(t *testing.T, mgr *Manager, nodeID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, id := range mgr.ConnectedNodes() {
			if id == nodeID {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("node %q never connected", nodeID)
}
