package secrets

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidTOML is returned for an allow-list file that does not parse.
	ErrInvalidTOML = errors.New("invalid allow-list TOML")
	// ErrInvalidRegex is returned for an allow-list pattern that does not compile.
	ErrInvalidRegex = errors.New("invalid allow-list pattern")
)

// LoadAllowList reads the content patterns of a TOML allow-list:
//
//	[allowlist]
//	regexes = ['''^example$''', '''^changeme$''']
//
// An empty path or a missing file yields no patterns.
func LoadAllowList(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var file struct {
		Allowlist struct {
			Regexes []string
		}
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range file.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: '%s' in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return file.Allowlist.Regexes, nil
}
