package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/meszmate/gossip/internal/app"
	"github.com/meszmate/gossip/internal/config"
	"github.com/meszmate/gossip/internal/logging"
	"github.com/meszmate/gossip/internal/ui"
	"github.com/meszmate/gossip/internal/ui/theme"
)

func main() {
	configFile := flag.String("config", "", "configuration file")
	accountsFile := flag.String("accounts", "", "accounts file")
	flag.Parse()

	paths, err := config.GetPaths()
	if err != nil {
		log.Fatalf("Failed to resolve directories: %v", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}
	if *configFile == "" {
		*configFile = paths.ConfigFile()
	}
	if *accountsFile == "" {
		*accountsFile = paths.AccountsFile()
	}

	// Load configuration
	cfg, err := config.LoadFile(*configFile, paths)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	accounts, err := config.LoadAccountsFile(*accountsFile)
	if err != nil {
		log.Fatalf("Failed to load accounts: %v", err)
	}

	// The console owns the terminal, so logs only go to the file
	cfg.Logging.Console = false
	if err := logging.Init(logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}

	styles := theme.Compile(theme.Default())
	if cfg.General.Theme != "" {
		t, err := theme.Load(cfg.General.Theme)
		if err != nil {
			log.Fatalf("Failed to load theme: %v", err)
		}
		styles = theme.Compile(t)
	}

	// Initialize application
	application, err := app.New(cfg, accounts)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer application.Close()

	p := tea.NewProgram(ui.NewModel(application, styles), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}
