package provider

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// HostInfo carries the stable device/build attributes bound into the
// fingerprint. Collected once at startup; tests supply their own.
type HostInfo struct {
	OS        string
	Arch      string
	Hostname  string
	OSName    string
	Kernel    string
	MachineID string
}

// CollectHostInfo gathers best-effort host attributes. Probes that fail
// leave "unknown" in place rather than erroring; fingerprints only need
// the values to be stable, not complete.
func CollectHostInfo() HostInfo {
	info := HostInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Hostname:  "unknown",
		OSName:    "unknown",
		Kernel:    "unknown",
		MachineID: "unknown",
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if data, err := os.ReadFile("/etc/os-release"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "PRETTY_NAME=") {
				info.OSName = strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
				break
			}
		}
	}

	if out, err := exec.Command("uname", "-r").Output(); err == nil {
		info.Kernel = strings.TrimSpace(string(out))
	}

	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				info.MachineID = id
				break
			}
		}
	}

	return info
}

// hardwareKeystorePresent reports whether a hardware trust anchor backs
// key storage on this host. On Macs the platform always provides one.
func hardwareKeystorePresent() bool {
	if runtime.GOOS == "darwin" {
		return true
	}
	for _, dev := range []string{"/dev/tpm0", "/dev/tpmrm0"} {
		if _, err := os.Stat(dev); err == nil {
			return true
		}
	}
	return false
}
