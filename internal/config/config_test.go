package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "windnf.conf")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}
	if cfg.Retries != 3 || !cfg.VerifySSL {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "windnf.conf")
	body := `[general]
downloader = native
db_path = /var/lib/windnf/windnf.sqlite
download_path = /tmp/downloads

[network]
timeout_connect = 5
timeout_read = 30
retries = 7
use_sspi = false
verify_ssl = false
ca_bundle = /etc/pki/bundle.pem
proxy_url = http://proxy.local:3128
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/var/lib/windnf/windnf.sqlite" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.TimeoutConnect != 5 || cfg.TimeoutRead != 30 || cfg.Retries != 7 {
		t.Errorf("network timeouts = %+v", cfg)
	}
	if cfg.UseSSPI {
		t.Error("UseSSPI should be false")
	}
	if cfg.VerifySSL {
		t.Error("VerifySSL should be false")
	}
	if cfg.ProxyURL != "http://proxy.local:3128" {
		t.Errorf("ProxyURL = %q", cfg.ProxyURL)
	}
}

func TestLegacySkipSSLVerifyInverts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "windnf.conf")
	body := "[general]\nskip_ssl_verify = true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VerifySSL {
		t.Error("skip_ssl_verify=true should set VerifySSL=false")
	}
}

func TestLegacySkipSSLVerifyFalseKeepsVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "windnf.conf")
	body := "[general]\nskip_ssl_verify = false\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.VerifySSL {
		t.Error("skip_ssl_verify=false should leave VerifySSL=true")
	}
}
