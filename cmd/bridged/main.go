package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/bridgectl/internal/hub"
	"github.com/danmuck/bridgectl/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "hub config file (toml)")
	localPath := flag.String("local", "", "local override file applied after -config")
	flag.Parse()

	cfg, lvl, err := loadServiceConfig(*configPath, *localPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridged: %v\n", err)
		os.Exit(1)
	}
	logging.ConfigureRuntimeLevel(lvl)

	svc := hub.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "bridged: %v\n", err)
		os.Exit(1)
	}
}
