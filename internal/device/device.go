// Package device collects the read-only host metadata attached to reports.
package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"crashrelay/internal/domain"
	"crashrelay/internal/store"
)

const (
	platform    = "Go"
	cpuFreqFile = "/sys/devices/system/cpu/cpu0/cpufreq/cpuinfo_max_freq"
	meminfoFile = "/proc/meminfo"
)

// Provider returns flat metadata snapshots. Implementations must return an
// empty map rather than nil when nothing can be collected.
type Provider interface {
	Identifiers() map[string]string
	Info() map[string]string
	Details() map[string]string
	SystemStats() map[string]string
}

// Host describes the running application. A nil *Host is a valid Provider
// that reports nothing.
type Host struct {
	AppID      string
	AppVersion string
	DeviceID   string

	// Focused reports whether the application is in the foreground.
	Focused func() bool
}

// LoadHost returns a Host whose device id is read from kv, generating and
// persisting a new one on first run.
func LoadHost(ctx context.Context, kv store.KV, appID, appVersion string) (*Host, error) {
	id, err := kv.Get(ctx, domain.KeyDeviceID)
	if errors.Is(err, store.ErrNotFound) {
		id = uuid.NewString()
		if err := kv.Set(ctx, domain.KeyDeviceID, id); err != nil {
			return nil, fmt.Errorf("persist device id: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load device id: %w", err)
	}
	return &Host{AppID: appID, AppVersion: appVersion, DeviceID: id}, nil
}

func (h *Host) Identifiers() map[string]string {
	m := map[string]string{}
	if h == nil {
		return m
	}
	m["app_id"] = h.AppID
	m["version"] = h.AppVersion
	m["device_id"] = h.DeviceID
	m["platform"] = platform
	return m
}

// Info extends Identifiers with the fields reported for a new install.
func (h *Host) Info() map[string]string {
	m := h.Identifiers()
	if h == nil {
		return m
	}
	m["carrier"] = ""
	m["status"] = "ACTIVE"
	m["locale"] = locale()
	return m
}

func (h *Host) Details() map[string]string {
	m := map[string]string{}
	if h == nil {
		return m
	}
	hostname, _ := os.Hostname()
	m["os"] = runtime.GOOS
	m["os_version"] = runtime.Version()
	m["make"] = runtime.GOARCH
	m["model"] = hostname
	m["processor"] = strconv.Itoa(runtime.NumCPU())
	if f := readTrimmed(cpuFreqFile); f != "" {
		m["CPU"] = f
	}
	if total, _ := meminfo(); total != "" {
		m["memory"] = total
	}
	return m
}

func (h *Host) SystemStats() map[string]string {
	m := map[string]string{}
	if h == nil {
		return m
	}
	total, free := meminfo()
	if total != "" {
		m["total_ram"] = total
		m["free_ram"] = free
	}
	hostname, _ := os.Hostname()
	m["device_model"] = hostname
	m["threads"] = strconv.Itoa(runtime.NumGoroutine())
	focused := false
	if h.Focused != nil {
		focused = h.Focused()
	}
	m["is_app_in_focus"] = strconv.FormatBool(focused)
	return m
}

func locale() string {
	for _, k := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(k); v != "" {
			if i := strings.IndexByte(v, '.'); i >= 0 {
				v = v[:i]
			}
			return v
		}
	}
	return "en_US"
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// meminfo returns MemTotal and MemAvailable, empty when unavailable.
func meminfo() (total, free string) {
	f, err := os.Open(meminfoFile)
	if err != nil {
		return "", ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		switch k {
		case "MemTotal":
			total = strings.TrimSpace(v)
		case "MemAvailable":
			free = strings.TrimSpace(v)
		}
	}
	return total, free
}
