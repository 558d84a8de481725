package app

import (
	"errors"
	"fmt"
	"strconv"

	intrnl "huddle/internal"
)

// RunClient launches the Bubble Tea watch client with the provided configuration.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	return intrnl.RunClient(cfg.ServerURL, cfg.Username, cfg.Groups)
}

// ParseGroupIDs converts positional arguments into group ids.
func ParseGroupIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid group id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
