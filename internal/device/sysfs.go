package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"livecam/native/internal/domain"
)

// SysfsEnumerator lists V4L2 capture devices from sysfs.
type SysfsEnumerator struct {
	// Root is the video4linux class directory, normally
	// /sys/class/video4linux.
	Root string
	// DevDir is where device nodes live, normally /dev.
	DevDir string
}

// NewSysfsEnumerator returns an enumerator reading root.
func NewSysfsEnumerator(root string) *SysfsEnumerator {
	return &SysfsEnumerator{Root: root, DevDir: "/dev"}
}

// Enumerate implements domain.DeviceEnumerator. Only the primary node of
// each device (index 0) is reported; the others carry metadata streams.
func (e *SysfsEnumerator) Enumerate(ctx context.Context) ([]domain.MediaDevice, error) {
	entries, err := os.ReadDir(e.Root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", e.Root, err)
	}

	var devices []domain.MediaDevice
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := entry.Name()
		if !strings.HasPrefix(node, "video") {
			continue
		}
		dir := filepath.Join(e.Root, node)
		if idx, ok := readAttr(dir, "index"); ok && idx != "0" {
			continue
		}
		label, _ := readAttr(dir, "name")
		devices = append(devices, domain.MediaDevice{
			ID:    filepath.Join(e.DevDir, node),
			Label: label,
			Kind:  domain.DeviceVideoInput,
		})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

func readAttr(dir, name string) (string, bool) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}
