package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomhq/loomgate/internal/config"
	"github.com/loomhq/loomgate/internal/memoryservice"
	"github.com/loomhq/loomgate/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("loomgate doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Providers
	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	checkProvider("Gemini", cfg.Providers.Gemini.APIKey)
	checkProvider("Groq", cfg.Providers.Groq.APIKey)
	checkProvider("DeepSeek", cfg.Providers.DeepSeek.APIKey)
	checkProvider("Mistral", cfg.Providers.Mistral.APIKey)
	checkProvider("XAI", cfg.Providers.XAI.APIKey)

	// Channels
	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	// Provider count: how many LLM providers have credentials configured.
	fmt.Println()
	providerCount := countConfiguredProviders(cfg)
	fmt.Printf("  Provider count: %d configured\n", providerCount)
	if providerCount == 0 {
		fmt.Println("    (no provider has an API key — the gateway cannot serve any turn)")
	}

	// Memory backend reachability
	fmt.Println()
	fmt.Print("  Memory: ")
	if cfg.MemoryService.BaseURL == "" {
		fmt.Println("(not configured)")
	} else {
		memClient := memoryservice.NewClient(cfg.MemoryService.BaseURL, cfg.MemoryService.Token)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := memClient.Ping(ctx); err != nil {
			fmt.Printf("UNREACHABLE (%s)\n", err)
		} else {
			fmt.Println("reachable")
		}
	}

	// External tools
	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("docker")
	checkBinary("curl")
	checkBinary("git")

	// Workspace
	fmt.Println()
	ws := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	fmt.Printf("  Workspace: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else if !workspaceWritable(ws) {
		fmt.Println(" (NOT WRITABLE)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

// countConfiguredProviders counts LLM providers with a non-empty API key.
func countConfiguredProviders(cfg *config.Config) int {
	keys := []string{
		cfg.Providers.Anthropic.APIKey,
		cfg.Providers.OpenAI.APIKey,
		cfg.Providers.OpenRouter.APIKey,
		cfg.Providers.Gemini.APIKey,
		cfg.Providers.Groq.APIKey,
		cfg.Providers.DeepSeek.APIKey,
		cfg.Providers.Mistral.APIKey,
		cfg.Providers.XAI.APIKey,
	}
	n := 0
	for _, k := range keys {
		if k != "" {
			n++
		}
	}
	return n
}

// workspaceWritable probes ws by creating and removing a throwaway file.
func workspaceWritable(ws string) bool {
	probe := filepath.Join(ws, ".loomgate-doctor-probe")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

func checkProvider(name, apiKey string) {
	if apiKey != "" {
		maskedKey := apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
		fmt.Printf("    %-12s %s\n", name+":", maskedKey)
	} else {
		fmt.Printf("    %-12s (not configured)\n", name+":")
	}
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
