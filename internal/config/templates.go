package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "hub":
		return hubTemplate, nil
	case "pane":
		return paneTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const hubTemplate = `listen_addr = "127.0.0.1:7400"
admin_listen = "127.0.0.1:7410"
token = ""
cors_origins = ["http://localhost:3000"]
log_level = "info"

[cache]
capacity = 128
force = false

[resolver]
interval = "25ms"

[ratelimit]
rps = 0.0
burst = 0
idle_ttl = "10m"

[storage]
path = "local/bridged/storage.json"
passphrase = ""

[fetch]
timeout = "30s"
max_body_bytes = 4194304
`

const paneTemplate = `hub = "127.0.0.1:7400"
window = "main"
private = false
token = ""
`
