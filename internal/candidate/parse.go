package candidate

import (
	"fmt"

	ptn "github.com/razsteinmetz/go-ptn"
)

// Title extracts the media title from a release name.
func Title(name string) (string, error) {
	info, err := ptn.Parse(name)
	if err != nil {
		return "", fmt.Errorf("failed to parse release name %q: %w", name, err)
	}
	if info.Title == "" {
		return "", fmt.Errorf("no title in release name %q", name)
	}
	return info.Title, nil
}

// SeasonNumber extracts the season number from a release name. The second
// return is false when the name carries no season marker.
func SeasonNumber(name string) (int, bool) {
	info, err := ptn.Parse(name)
	if err != nil || info.Season <= 0 {
		return 0, false
	}
	return info.Season, true
}
