package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
environment: test
enclave:
  base_url: http://enclave:3000
chain:
  rpc_url: http://sui:9000
  package_id: "0xabc"
sponsor:
  mode: local
  address: "0x5"
quote:
  validity_window: 2m
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadWithEnvOverlaysSecretsAndOverrides(t *testing.T) {
	t.Setenv("SPONSOR_PRIVATE_KEY", "deadbeef")
	t.Setenv("SUI_RPC_URL", "http://override:9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := LoadWithEnv(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if c.Secrets.SponsorPrivateKey != "deadbeef" {
		t.Fatalf("secret not decoded: %+v", c.Secrets)
	}
	if c.Chain.RPCURL != "http://override:9000" {
		t.Fatalf("rpc url = %s", c.Chain.RPCURL)
	}
	if len(c.Kafka.Brokers) != 2 {
		t.Fatalf("brokers = %v", c.Kafka.Brokers)
	}
	if c.Quote.ValidityWindow != 2*time.Minute {
		t.Fatalf("validity window = %s", c.Quote.ValidityWindow)
	}
	if c.Quote.SpentBackend != "memory" || c.Chain.CoinType != "0x2::sui::SUI" {
		t.Fatalf("defaults not applied: %+v", c.Quote)
	}
}

func TestValidateRequiresSponsorSecret(t *testing.T) {
	t.Setenv("SPONSOR_PRIVATE_KEY", "")
	_, err := LoadWithEnv(writeConfig(t, minimalYAML))
	if err == nil || !strings.Contains(err.Error(), "SPONSOR_PRIVATE_KEY") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestDialAndSubmissionTimeouts(t *testing.T) {
	t.Setenv("SPONSOR_PRIVATE_KEY", "deadbeef")
	body := minimalYAML + `
redis:
  enabled: true
  addr: redis:6379
  dial_timeout: 750ms
`
	c, err := LoadWithEnv(writeConfig(t, strings.Replace(body, "  rpc_url: http://sui:9000\n",
		"  rpc_url: http://sui:9000\n  timeout: 10s\n  finality_timeout: 20s\n", 1)))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if c.Redis.DialTimeout != 750*time.Millisecond {
		t.Fatalf("redis dial timeout = %s", c.Redis.DialTimeout)
	}
	// unset submission timeout covers one RPC call plus the finality wait
	if c.Submission.Timeout != 30*time.Second {
		t.Fatalf("submission timeout = %s", c.Submission.Timeout)
	}
}
