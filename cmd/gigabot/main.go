package main

import (
	"fmt"
	"os"

	"github.com/bdobrica/gigabot/common/version"
	"github.com/bdobrica/gigabot/internal/gigabot/app"
)

func main() {
	fmt.Printf("GigaBot\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	config, err := app.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	bot, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize GigaBot: %v\n", err)
		os.Exit(1)
	}
	defer bot.Stop()

	if err := bot.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running GigaBot: %v\n", err)
		os.Exit(1)
	}
}
