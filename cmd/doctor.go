package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noteforge/noteforge/internal/config"
	"github.com/noteforge/noteforge/internal/credstore"
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
	fmt.Println("noteforge doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	checkGitBinary()
	checkCredentialStore(cfg)
	checkMCPHub(cfg)
	checkTelegramToken(cfg)
	checkOpenAIKey(cfg)
}

func checkGitBinary() {
	fmt.Print("  git:      ")
	path, err := exec.LookPath("git")
	if err != nil {
		fmt.Println("NOT FOUND on PATH")
		return
	}
	out, err := exec.Command(path, "--version").Output()
	if err != nil {
		fmt.Printf("found at %s, but failed to run: %s\n", path, err)
		return
	}
	fmt.Printf("OK (%s)\n", strings.TrimSpace(string(out)))
}

func checkCredentialStore(cfg *config.Config) {
	fmt.Print("  creds:    ")
	if cfg.CredentialMasterKey == "" {
		fmt.Println("NOTEFORGE_CRED_MASTER_KEY is not set; /creds set will fail")
		return
	}
	path := filepath.Join(cfg.DataDir, "credentials.json")
	if _, err := credstore.New(path, []byte(cfg.CredentialMasterKey)); err != nil {
		fmt.Printf("master key rejected: %s\n", err)
		return
	}
	fmt.Printf("OK (%s)\n", path)
}

func checkMCPHub(cfg *config.Config) {
	fmt.Print("  mcp hub:  ")
	if cfg.McpHubMode != "bundled" && cfg.McpHubURL == "" {
		fmt.Println("mode is \"external\" but mcp_hub_url is empty")
		return
	}
	url := cfg.McpHubURL
	if cfg.McpHubMode == "bundled" && url == "" {
		url = fmt.Sprintf("http://localhost:%d", cfg.McpHubPort)
	}

	client := &http.Client{Timeout: 3 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(url, "/")+"/health", nil)
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("unreachable at %s: %s\n", url, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("unhealthy at %s (status %d)\n", url, resp.StatusCode)
		return
	}
	fmt.Printf("OK (%s)\n", url)
}

func checkTelegramToken(cfg *config.Config) {
	fmt.Print("  telegram: ")
	if cfg.TelegramBotToken == "" {
		fmt.Println("NOTEFORGE_TELEGRAM_BOT_TOKEN is not set")
		return
	}
	fmt.Println("OK (token present)")
}

func checkOpenAIKey(cfg *config.Config) {
	fmt.Print("  agent:    ")
	if cfg.AgentDriverMode == "subprocess" {
		if cfg.AgentSubprocessCommand == "" {
			fmt.Println("driver mode is \"subprocess\" but agent_subprocess_command is empty")
			return
		}
		if _, err := exec.LookPath(cfg.AgentSubprocessCommand); err != nil {
			fmt.Printf("subprocess command %q not found on PATH\n", cfg.AgentSubprocessCommand)
			return
		}
		fmt.Printf("OK (subprocess: %s)\n", cfg.AgentSubprocessCommand)
		return
	}
	if cfg.OpenAIAPIKey == "" {
		fmt.Println("NOTEFORGE_OPENAI_API_KEY is not set")
		return
	}
	fmt.Printf("OK (inprocess, model %s)\n", cfg.AgentModel)
}
