package cmd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/loomhq/loomgate/internal/config"
	"github.com/loomhq/loomgate/internal/sessions"
)

// runAgentChat sends message to agentName, preferring a running gateway
// (WebSocket client mode) and falling back to a standalone in-process loop
// when no gateway is listening on the configured host/port.
func runAgentChat(agentName, message, sessionKey string) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Default session key
	if sessionKey == "" {
		sessionKey = sessions.BuildSessionKey(agentName, "cli", sessions.PeerDirect, "local")
	}

	// Try client mode first (connect to running gateway)
	host := cfg.Gateway.Host
	if host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)

	if isGatewayRunning(addr) {
		fmt.Fprintf(os.Stderr, "Connected to gateway at %s\n", addr)
		runClientMode(cfg, addr, agentName, message, sessionKey)
		return
	}

	// Fallback: standalone mode
	fmt.Fprintf(os.Stderr, "Gateway not running, using standalone mode\n")
	runStandaloneMode(cfg, agentName, message, sessionKey)
}

// --- Gateway detection ---

func isGatewayRunning(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
