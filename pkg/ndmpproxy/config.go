package ndmpproxy

import (
	"fmt"
	"io/fs"
	"reflect"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Config holds ndmp-proxy's configuration. The env struct tag contains the
// environment variable name and the default value if missing.
type Config struct {
	// The TCP port to listen on, matching the original's "-o proxy=PORT".
	// If 0, a random port is chosen and printed to stdout as "PORT n", as
	// the original's start_ndmp_proxy expects to parse from its child's
	// stdout.
	Port int `env:"NDMP_PROXY_PORT=0"`

	// The maximum number of simultaneously accepted connections; values
	// above 3 only let extra connections queue to be rejected as busy.
	MaxConns int `env:"NDMP_PROXY_MAX_CONNS=8"`

	// The minimum log level, matching the original's -d debug level, folded
	// into zerolog's level scheme instead of Amanda's own numeric levels.
	LogLevel zerolog.Level `env:"NDMP_PROXY_LOG_LEVEL=info"`

	// Whether to log to stdout.
	LogStdout bool `env:"NDMP_PROXY_LOG_STDOUT=true"`

	// The log file to write to, if any (the original's -L debug file).
	// Reopened on SIGHUP.
	LogFile string `env:"NDMP_PROXY_LOG_FILE"`

	// Permissions for the log file.
	LogFileChmod fs.FileMode `env:"NDMP_PROXY_LOG_FILE_CHMOD"`
}

// UnmarshalEnv populates c from es, a list of "KEY=VALUE" strings such as
// os.Environ(). If incremental is true, variables missing from es leave the
// corresponding field untouched instead of being reset to their default.
func (c *Config) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "NDMP_PROXY_") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		key, val, _ := strings.Cut(env, "=")
		if v, exists := em[key]; exists {
			val = v
			delete(em, key)
		} else if incremental {
			continue
		}

		switch cvf := cv.FieldByName(ctf.Name); cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int, int8, int16, int32, int64:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case fs.FileMode:
			if val == "" {
				cvf.Set(reflect.ValueOf(fs.FileMode(0)))
			} else if v, err := strconv.ParseUint(val, 8, 32); err == nil {
				cvf.Set(reflect.ValueOf(fs.FileMode(v)))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}
