package domain

import (
	"errors"
	"time"
)

// Kind tags a Task variant.
type Kind string

const (
	KindBackground      Kind = "background"
	KindForeground      Kind = "foreground"
	KindNewInstall      Kind = "new_install"
	KindFlushLifecycles Kind = "flush_lifecycles"
	KindGetConfig       Kind = "get_config"
)

// Task is a unit of lifecycle work on the dispatch queue. At is only
// meaningful for foreground and background events.
type Task struct {
	Kind Kind
	At   time.Time
}

func Background(at time.Time) Task { return Task{Kind: KindBackground, At: at} }
func Foreground(at time.Time) Task { return Task{Kind: KindForeground, At: at} }
func NewInstall() Task             { return Task{Kind: KindNewInstall} }
func FlushLifecycles() Task        { return Task{Kind: KindFlushLifecycles} }
func GetConfig() Task              { return Task{Kind: KindGetConfig} }

// ParseKind maps a wire name onto a Kind.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindBackground, KindForeground, KindNewInstall, KindFlushLifecycles, KindGetConfig:
		return k, true
	}
	return "", false
}

// Decision is the outcome of a config evaluation. Endpoints are empty
// whenever Enabled is false.
type Decision struct {
	Enabled          bool   `json:"enabled"`
	SessionsEndpoint string `json:"sessions_endpoint,omitempty"`
	InstallEndpoint  string `json:"install_endpoint,omitempty"`
}

// Size limits shared by the custom key cache and the custom log buffer.
const (
	MaxPairBytes  = 1024
	MaxLineBytes  = 1024
	MaxLogEntries = 64
	MaxCustomKeys = 64
)

var ErrSizeLimit = errors.New("size limit exceeded")

// Store keys.
const (
	KeySticky          = "sticky"
	KeyNewInstall      = "NEW_INSTALL"
	KeyFlushLifecycles = "FLUSH_LIFECYCLES"
	KeyFailedInit      = "FAILED_INIT"
	KeyDeviceID        = "device_id"
)

// Lifecycle is one foreground/background session, optionally ending in a
// crash. Timestamps are unix milliseconds.
type Lifecycle struct {
	Foreground   int64         `json:"fg"`
	Background   int64         `json:"bg"`
	CrashDetails *CrashDetails `json:"crash_details,omitempty"`
}

type CrashDetails struct {
	OriginError string            `json:"origin_error"`
	StackTrace  string            `json:"stack_trace"`
	AppEvents   []AppEvent        `json:"app_events"`
	SystemStats map[string]string `json:"system_stats,omitempty"`
}

type AppEvent struct {
	Key   string `json:"app_key"`
	Value string `json:"app_value"`
}
