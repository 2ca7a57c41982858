package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomhq/loomgate/internal/config"
)

// providerFieldRef returns a pointer to the API key field for provider, or
// nil if provider names nothing known.
func providerFieldRef(cfg *config.Config, provider string) *string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return &cfg.Providers.Anthropic.APIKey
	case "openai":
		return &cfg.Providers.OpenAI.APIKey
	case "openrouter":
		return &cfg.Providers.OpenRouter.APIKey
	case "gemini":
		return &cfg.Providers.Gemini.APIKey
	case "groq":
		return &cfg.Providers.Groq.APIKey
	case "deepseek":
		return &cfg.Providers.DeepSeek.APIKey
	case "mistral":
		return &cfg.Providers.Mistral.APIKey
	case "xai":
		return &cfg.Providers.XAI.APIKey
	default:
		return nil
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit the gateway configuration file",
	}
	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configSetSecretCmd())
	cmd.AddCommand(configGetSecretCmd())
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved config with provider secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			redactSecrets(cfg)
			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func configSetSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-secret <provider> <api-key>",
		Short: "Set a provider API key and save it to the config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			ref := providerFieldRef(cfg, args[0])
			if ref == nil {
				return fmt.Errorf("unknown provider %q", args[0])
			}
			*ref = args[1]
			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("saved %s API key\n", args[0])
			return nil
		},
	}
}

func configGetSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-secret <provider>",
		Short: "Print a provider's API key, masked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			ref := providerFieldRef(cfg, args[0])
			if ref == nil {
				return fmt.Errorf("unknown provider %q", args[0])
			}
			if *ref == "" {
				fmt.Println("(not configured)")
				return nil
			}
			fmt.Println(maskSecret(*ref))
			return nil
		},
	}
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// redactSecrets masks provider API keys and tokens in-place before cfg is
// serialized for display.
func redactSecrets(cfg *config.Config) {
	for _, ref := range []*string{
		&cfg.Providers.Anthropic.APIKey,
		&cfg.Providers.OpenAI.APIKey,
		&cfg.Providers.OpenRouter.APIKey,
		&cfg.Providers.Gemini.APIKey,
		&cfg.Providers.Groq.APIKey,
		&cfg.Providers.DeepSeek.APIKey,
		&cfg.Providers.Mistral.APIKey,
		&cfg.Providers.XAI.APIKey,
		&cfg.Channels.Telegram.Token,
		&cfg.Channels.Discord.Token,
		&cfg.Gateway.Token,
	} {
		if *ref != "" {
			*ref = maskSecret(*ref)
		}
	}
}
