// Package config loads windnf's INI-style configuration file: the
// `[general]`/`[network]` sections described in §6 of the specification.
//
// No third-party INI-parsing library appears anywhere in this
// codebase's own dependency tree (see DESIGN.md); this is the one
// ambient concern carried on the standard library, following the same
// approach (a line-oriented parser over a small, closed set of known
// keys) as the original Python tool's stdlib `configparser` use.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is windnf's fully defaulted, loaded configuration.
type Config struct {
	// [general]
	Downloader   string
	DBPath       string
	DownloadPath string

	// [network]
	TimeoutConnect int
	TimeoutRead    int
	Retries        int
	UseSSPI        bool
	VerifySSL      bool
	CABundle       string
	ProxyURL       string
}

// Default returns the built-in defaults, rooted at dir (typically
// os.UserConfigDir()/windnf).
func Default(dir string) Config {
	return Config{
		Downloader:     "native",
		DBPath:         filepath.Join(dir, "windnf.sqlite"),
		DownloadPath:   ".",
		TimeoutConnect: 10,
		TimeoutRead:    60,
		Retries:        3,
		UseSSPI:        true,
		VerifySSL:      true,
	}
}

// Load reads the INI file at path, returning defaults rooted at the
// file's directory merged with whatever keys are present. A missing
// file is created with defaults and defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default(filepath.Dir(path))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path, cfg); err != nil {
			return cfg, fmt.Errorf("config: write default: %w", err)
		}
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()

	sections, err := parseINI(f)
	if err != nil {
		return cfg, fmt.Errorf("config: parse: %w", err)
	}

	general := sections["general"]
	if v, ok := general["downloader"]; ok {
		cfg.Downloader = v
	}
	if v, ok := general["db_path"]; ok {
		cfg.DBPath = v
	}
	if v, ok := general["download_path"]; ok {
		cfg.DownloadPath = v
	}

	network := sections["network"]
	if v, ok := network["timeout_connect"]; ok {
		cfg.TimeoutConnect = atoiOr(v, cfg.TimeoutConnect)
	}
	if v, ok := network["timeout_read"]; ok {
		cfg.TimeoutRead = atoiOr(v, cfg.TimeoutRead)
	}
	if v, ok := network["retries"]; ok {
		cfg.Retries = atoiOr(v, cfg.Retries)
	}
	if v, ok := network["use_sspi"]; ok {
		cfg.UseSSPI = parseBool(v, cfg.UseSSPI)
	}
	if v, ok := network["verify_ssl"]; ok {
		cfg.VerifySSL = parseBool(v, cfg.VerifySSL)
	}
	if v, ok := network["ca_bundle"]; ok {
		cfg.CABundle = v
	}
	if v, ok := network["proxy_url"]; ok {
		cfg.ProxyURL = v
	}

	// Legacy skip_ssl_verify under [general] inverts into verify_ssl.
	if v, ok := general["skip_ssl_verify"]; ok {
		cfg.VerifySSL = !parseBool(v, !cfg.VerifySSL)
	}

	return cfg, nil
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return b
}

// parseINI is a minimal `[section]\nkey = value` reader: no nested
// sections, no quoting, no interpolation — the closed key set windnf
// recognizes needs none of that.
func parseINI(f *os.File) (map[string]map[string]string, error) {
	sections := map[string]map[string]string{}
	section := ""
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			if sections[section] == nil {
				sections[section] = map[string]string{}
			}
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		if section == "" {
			continue
		}
		sections[section][key] = val
	}
	return sections, sc.Err()
}

func writeDefault(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[general]\n")
	fmt.Fprintf(&b, "downloader = %s\n", cfg.Downloader)
	fmt.Fprintf(&b, "db_path = %s\n", cfg.DBPath)
	fmt.Fprintf(&b, "download_path = %s\n\n", cfg.DownloadPath)
	fmt.Fprintf(&b, "[network]\n")
	fmt.Fprintf(&b, "timeout_connect = %d\n", cfg.TimeoutConnect)
	fmt.Fprintf(&b, "timeout_read = %d\n", cfg.TimeoutRead)
	fmt.Fprintf(&b, "retries = %d\n", cfg.Retries)
	fmt.Fprintf(&b, "use_sspi = %t\n", cfg.UseSSPI)
	fmt.Fprintf(&b, "verify_ssl = %t\n", cfg.VerifySSL)
	fmt.Fprintf(&b, "ca_bundle = %s\n", cfg.CABundle)
	fmt.Fprintf(&b, "proxy_url = %s\n", cfg.ProxyURL)
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
