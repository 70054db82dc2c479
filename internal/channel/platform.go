package channel

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// PlatformVersion describes the running OS, e.g. "linux 6.1.0-18-amd64 (amd64)".
func PlatformVersion() (string, error) {
	info, err := host.Info()
	if err != nil {
		return "", fmt.Errorf("failed to read host info: %w", err)
	}
	return formatPlatform(info.OS, info.KernelVersion, runtime.GOARCH), nil
}

func formatPlatform(goos, version, arch string) string {
	if goos == "" {
		goos = runtime.GOOS
	}
	parts := []string{goos}
	if version != "" {
		parts = append(parts, version)
	}
	return fmt.Sprintf("%s (%s)", strings.Join(parts, " "), arch)
}
