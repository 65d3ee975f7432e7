package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/zann-project/zann/internal/crypto/envelope"
	"github.com/zann-project/zann/internal/localcache"
)

// cfgDir follows XDG_CONFIG_HOME the same way the teacher's CLI locates its
// token/DEK store.
func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "zann")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "zann")
}

func sessionPath() string { return filepath.Join(cfgDir(), "session.json") }
func mkPath() string      { return filepath.Join(cfgDir(), "mk.bin") }

// session persists everything the CLI needs between invocations: the server
// address, the current tokens, and the identifiers a later `item`/`vault`
// command needs to rebuild requests. The master key itself is kept out of
// this file and stored separately (mkPath) with tighter permissions.
type session struct {
	Addr         string    `json:"addr"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
}

func saveSession(s session) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.Create(sessionPath())
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func loadSession() (session, error) {
	var s session
	b, err := os.ReadFile(sessionPath())
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, err
	}
	if s.AccessToken == "" {
		return s, errors.New("no session (login required)")
	}
	return s, nil
}

// saveMasterKey persists the derived Master Key so later commands in a new
// process can unwrap personal vault keys without re-entering the password
// (mirrors the teacher CLI's dek.bin, generalized to the MK/vault-key
// hierarchy: spec.md §4.1, §4.2).
func saveMasterKey(mk envelope.Key) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(mkPath(), mk[:], 0o600)
}

// cachePath is the embedded store backing the CLI's master-key fingerprint
// guard (spec.md §4.2); the same file would hold the full offline cache
// (spec.md §4.5) if this client ever grows one.
func cachePath() string { return filepath.Join(cfgDir(), "cache.db") }

func openLocalCache() (*localcache.Store, error) {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return nil, err
	}
	return localcache.Open(cachePath())
}

func loadMasterKey() (envelope.Key, error) {
	var mk envelope.Key
	b, err := os.ReadFile(mkPath())
	if err != nil {
		return mk, err
	}
	if len(b) != envelope.KeyLen {
		return mk, errors.New("corrupt master key file")
	}
	copy(mk[:], b)
	return mk, nil
}
