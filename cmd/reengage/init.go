package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	initOutput     string
	initDataDir    string
	initAPIKey     string
	initPushMode   string
	initWebhookURL string
	initRedisAddr  string
	initMetrics    bool
	initForce      bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a configuration file",
	Long: `Generate a Reengage configuration file with a random API key.

Examples:
  # Log notifications instead of sending them
  reengage init -o config.yaml

  # Deliver through a push gateway
  reengage init --push-mode webhook --webhook-url https://push.internal/send`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/reengage", "Data directory for the database and queue")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initPushMode, "push-mode", "log", "Push transport: log, webhook")
	initCmd.Flags().StringVar(&initWebhookURL, "webhook-url", "", "Push gateway URL for webhook mode")
	initCmd.Flags().StringVar(&initRedisAddr, "redis-addr", "", "Redis address for the shared run lock")
	initCmd.Flags().BoolVar(&initMetrics, "metrics", false, "Enable the Prometheus endpoint")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	if initPushMode == "webhook" && initWebhookURL == "" {
		return fmt.Errorf("--webhook-url is required for webhook push mode")
	}

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
	}

	if dir := filepath.Dir(initOutput); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig()), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration written to %s\n", initOutput)
	fmt.Printf("API key: %s\n", initAPIKey)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  reengage config validate -c %s\n", initOutput)
	fmt.Printf("  reengage serve -c %s\n", initOutput)

	return nil
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig() string {
	var sb strings.Builder

	sb.WriteString("# Reengage configuration\n\n")

	sb.WriteString("api:\n")
	sb.WriteString("  listen_addr: \":8080\"\n")
	sb.WriteString(fmt.Sprintf("  api_key: %q\n\n", initAPIKey))

	sb.WriteString("database:\n")
	sb.WriteString(fmt.Sprintf("  path: %q\n\n", filepath.Join(initDataDir, "reengage.db")))

	sb.WriteString("queue:\n")
	sb.WriteString(fmt.Sprintf("  path: %q\n", filepath.Join(initDataDir, "queue.db")))
	sb.WriteString("  workers: 4\n")
	sb.WriteString("  max_attempts: 3\n\n")

	sb.WriteString("scheduler:\n")
	sb.WriteString("  cron: \"0 10 * * *\"\n")
	sb.WriteString("  metrics_cron: \"55 23 * * *\"\n\n")

	sb.WriteString("analyzer:\n")
	sb.WriteString("  min_days_inactive: 5\n")
	sb.WriteString("  min_completed_steps: 2\n\n")

	sb.WriteString("campaign:\n")
	sb.WriteString("  intervals:\n")
	sb.WriteString("    1: 5\n")
	sb.WriteString("    2: 12\n")
	sb.WriteString("    3: 20\n")
	sb.WriteString("    4: 30\n\n")

	sb.WriteString("push:\n")
	sb.WriteString(fmt.Sprintf("  mode: %s\n", initPushMode))
	if initWebhookURL != "" {
		sb.WriteString(fmt.Sprintf("  webhook_url: %q\n", initWebhookURL))
	}
	sb.WriteString("\n")

	if initRedisAddr != "" {
		sb.WriteString("lock:\n")
		sb.WriteString(fmt.Sprintf("  redis_addr: %q\n\n", initRedisAddr))
	}

	sb.WriteString("metrics:\n")
	sb.WriteString(fmt.Sprintf("  enabled: %t\n", initMetrics))
	sb.WriteString("  listen_addr: \":9090\"\n\n")

	sb.WriteString("logging:\n")
	sb.WriteString("  level: info\n")
	sb.WriteString("  format: json\n")

	return sb.String()
}
