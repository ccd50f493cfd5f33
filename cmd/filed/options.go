package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fametec/filed/internal/config"
)

// Options is the per-job configuration struct both subcommands build,
// following the teacher's Options-struct-plus-config-tag convention
// (fs/config/configstruct, §10): defaults are filled in by
// DefaultOptions, cobra flags assign the common ones directly, and
// --opt key=value pairs let a caller reach every field by its
// snake_case name without a matching flag existing, the same escape
// hatch every backend in the pack exposes.
type Options struct {
	Sparse            bool          `config:"sparse"`
	Offsets           bool          `config:"offsets"`
	Compress          string        `config:"compress"` // none, gzip, lzo, zstd
	CompressLevel     int           `config:"compress_level"`
	Digest            string        `config:"digest"` // none, md5, sha1, sha256, sha512
	Xattr             bool          `config:"xattr"`
	RateLimit         int           `config:"rate_limit"` // bytes/sec, 0 = unlimited
	HeartbeatInterval time.Duration `config:"heartbeat_interval"`
	FollowSymlinks    bool          `config:"follow_symlinks"`
}

// DefaultOptions mirrors the zero-value-plus-defaults shape every
// backend's Options constructor in the pack uses.
func DefaultOptions() Options {
	return Options{
		Compress:          "none",
		CompressLevel:     6,
		Digest:            "none",
		HeartbeatInterval: 2 * time.Second,
	}
}

// applyOpts parses "key=value" pairs (as repeatable --opt flags) and
// overlays them onto opts via internal/config.Set, the same
// map[string]string-backed configmap.Getter shape the teacher's own
// config loaders use.
func applyOpts(opts *Options, raw []string) error {
	m := make(rawGetter, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --opt %q: expected key=value", kv)
		}
		m[k] = v
	}
	return config.Set(m, opts)
}

type rawGetter map[string]string

func (m rawGetter) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}
