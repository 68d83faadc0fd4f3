package statelog

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

var ErrInvalidDSN = errors.New("invalid state log dsn")

const defaultLogPath = "logs/state.ndjson"

// BuildSinkFromDSN selects a sink backend by DSN scheme. An empty DSN
// means the default NDJSON file; bare paths are treated as files.
func BuildSinkFromDSN(dsn string) (Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewFileSink(defaultLogPath)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileSink(path)
	case "memory", "mem", "inmem":
		return NewMemorySink(0), nil
	case "postgres", "postgresql":
		return NewPostgresSink(dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDSN, scheme)
	}
}

func dsnPath(parsed *url.URL, dsn string) (string, error) {
	if parsed.Scheme == "" {
		return dsn, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = filepath.Join(parsed.Host, path)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrInvalidDSN
	}
	return path, nil
}
