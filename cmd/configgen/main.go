package main

import (
	"flag"
	"log"

	"github.com/danmuck/bridgectl/internal/config"
)

func main() {
	kind := flag.String("kind", "hub", "config kind: hub|pane")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			switch *kind {
			case "hub":
				path = "cmd/bridged/config.toml"
			case "pane":
				path = "cmd/panectl/config.toml"
			default:
				log.Fatalf("unknown kind: %s", *kind)
			}
		}

		switch *kind {
		case "hub":
			if _, err := config.Load(path); err != nil {
				log.Fatal(err)
			}
		case "pane":
			if _, err := config.LoadPane(path); err != nil {
				log.Fatal(err)
			}
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "hub":
			target = "cmd/bridged/config.toml"
		case "pane":
			target = "cmd/panectl/config.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
