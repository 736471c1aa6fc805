// Package xconfig holds runtime tuning knobs. Grounded on the
// teacher's node/config.go: a plain struct, a DefaultConfig()
// constructor, and field-level ValidateConfig — no external
// config-file library, since no file in the example pack actually
// imports one directly (see DESIGN.md); network/peer fields are
// dropped because transport is an external collaborator per spec.md
// §1, replaced with the tick-loop and backpressure knobs spec.md §4.7
// and §9 name.
package xconfig

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Config tunes the runtime (R), entity (E) and account (A) layers.
type Config struct {
	// TickInterval is the nominal wall-clock tick period (spec.md §4.7,
	// default 100ms; scenario/deterministic drivers may override it).
	TickInterval time.Duration `json:"tick_interval"`

	// SnapshotRetention bounds how many EnvSnapshots are retained for
	// time-travel (spec.md §6.2 "subject to a configurable retention
	// bound").
	SnapshotRetention int `json:"snapshot_retention"`

	// PendingOutputCap bounds env.pendingOutputs per destination
	// (spec.md §4.7 backpressure / DoS protection).
	PendingOutputCap int `json:"pending_output_cap"`

	// MempoolRetryLimit bounds how many times a rejected tx is
	// retried before eviction (spec.md §7 recovery policy).
	MempoolRetryLimit int `json:"mempool_retry_limit"`

	// JBlockLivenessInterval is JBLOCK_LIVENESS_INTERVAL from spec.md
	// §4.4: blocks without an observation before a liveness warning.
	JBlockLivenessInterval uint64 `json:"jblock_liveness_interval"`

	// HtlcDefaultTimeoutBlocks is the default N in
	// revealBeforeHeight = current jHeight + N (spec.md §4.4). The
	// entity layer's htlc_payment does not read it; it uses a fixed
	// window of 40 blocks.
	HtlcDefaultTimeoutBlocks uint64 `json:"htlc_default_timeout_blocks"`

	// LogLevel gates xlog's logrus sink (debug/info/warn/error).
	LogLevel string `json:"log_level"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultConfig() Config {
	return Config{
		TickInterval:             100 * time.Millisecond,
		SnapshotRetention:        10_000,
		PendingOutputCap:         4096,
		MempoolRetryLimit:        8,
		JBlockLivenessInterval:   50,
		HtlcDefaultTimeoutBlocks: 20,
		LogLevel:                 "info",
	}
}

func Validate(cfg Config) error {
	if cfg.TickInterval <= 0 {
		return errors.New("xconfig: tick_interval must be > 0")
	}
	if cfg.SnapshotRetention <= 0 {
		return errors.New("xconfig: snapshot_retention must be > 0")
	}
	if cfg.PendingOutputCap <= 0 {
		return errors.New("xconfig: pending_output_cap must be > 0")
	}
	if cfg.MempoolRetryLimit <= 0 {
		return errors.New("xconfig: mempool_retry_limit must be > 0")
	}
	if cfg.JBlockLivenessInterval == 0 {
		return errors.New("xconfig: jblock_liveness_interval must be > 0")
	}
	level := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[level]; !ok {
		return errors.Errorf("xconfig: invalid log_level %q", cfg.LogLevel)
	}
	return nil
}
