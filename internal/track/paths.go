package track

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CollectPaths resolves the track files to read. Inputs are expanded as glob patterns; each
// date/slot pair adds dir/trk<date>_<slot>.csv (or its .zst sibling). Only existing files are
// returned, duplicates removed, first occurrence order kept.
func CollectPaths(inputs, dates, slots []string, dir string) ([]string, error) {
	seen := make(map[string]bool)
	paths := make([]string, 0)

	add := func(p string) {
		clean := filepath.Clean(p)
		if seen[clean] {
			return
		}
		info, err := os.Stat(clean)
		if err != nil || info.IsDir() {
			return
		}
		seen[clean] = true
		paths = append(paths, clean)
	}

	for _, pattern := range inputs {
		pattern = expandHome(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid input pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			add(m)
		}
	}

	if len(dates) > 0 && len(slots) > 0 {
		base := expandHome(dir)
		for _, date := range dates {
			for _, slot := range slots {
				name := fmt.Sprintf("trk%s_%s.csv", strings.TrimSpace(date), strings.TrimSpace(slot))
				p := filepath.Join(base, name)
				if _, err := os.Stat(p); err != nil {
					p += ".zst"
				}
				add(p)
			}
		}
	}

	return paths, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
