package permission

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Linux capability bits needed to open a raw HCI socket.
const (
	capNetAdmin = 12
	capNetRaw   = 13
)

const procSelfStatus = "/proc/self/status"

// requiredCapMask covers every capability raw HCI access needs. All bits
// must be held; a partial grant behaves like no grant.
const requiredCapMask uint64 = 1<<capNetAdmin | 1<<capNetRaw

// HostCapabilityGate grants scanning when the process can plausibly open the
// Bluetooth adapter: effective uid 0, or CAP_NET_ADMIN plus CAP_NET_RAW in
// the effective capability set. When /proc cannot be read or parsed the gate
// grants with a warning and lets the radio surface the real failure.
type HostCapabilityGate struct {
	logger *logrus.Logger

	// Overridable for tests.
	statusPath string
	euid       func() int
}

// NewHostCapabilityGate creates a gate backed by the current process's
// credentials. If logger is nil, a default logger is created.
func NewHostCapabilityGate(logger *logrus.Logger) *HostCapabilityGate {
	if logger == nil {
		logger = logrus.New()
	}
	return &HostCapabilityGate{
		logger:     logger,
		statusPath: procSelfStatus,
		euid:       os.Geteuid,
	}
}

// Request implements Gate.
func (g *HostCapabilityGate) Request(ctx context.Context) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Denied, err
	}

	if g.euid() == 0 {
		return Granted, nil
	}

	caps, err := readEffectiveCaps(g.statusPath)
	if err != nil {
		g.logger.WithError(err).Warn("Cannot read process capabilities; assuming radio access is permitted")
		return Granted, nil
	}

	if caps&requiredCapMask == requiredCapMask {
		return Granted, nil
	}

	g.logger.WithFields(logrus.Fields{
		"effective_caps": strconv.FormatUint(caps, 16),
		"required_caps":  strconv.FormatUint(requiredCapMask, 16),
	}).Debug("Missing capabilities for raw HCI access")
	return Denied, nil
}

// readEffectiveCaps extracts the CapEff bitmask from a /proc status file.
func readEffectiveCaps(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "CapEff:") {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(line, "CapEff:"))
		return strconv.ParseUint(value, 16, 64)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, os.ErrNotExist
}
