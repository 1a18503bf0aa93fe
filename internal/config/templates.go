package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "gateway":
		return gatewayTemplate, nil
	case "client":
		return clientTemplate, nil
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

const gatewayTemplate = `name = "zremoted"
addr = ":10000"
tcp_addr = ""
ws_path = "/"
cors_origins = ["http://localhost:3000"]
engine_id = ""
max_message_bytes = 16777216
query_timeout = "10s"
write_timeout = "15s"
security_mode = "development"

[tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`

const clientTemplate = `address = "ws://127.0.0.1:10000/"
connect_timeout = "5s"
ack_timeout = "20s"
max_connect_attempts = 5
security_mode = "development"
tls_enabled = false
tls_mutual = false
tls_cert_file = ""
tls_key_file = ""
tls_ca_file = ""
tls_server_name = ""
`
