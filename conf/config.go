package conf

/*
   This is a package that wraps viper, a package designed to handle config
   files, for the dispatch engine.

   Lookup order:
   1. A local.env file found in one of the known config locations (or the
   directory named by DISPATCH_CONF_DIR).
   2. The process environment, for any key the config file does not track.

   Assumptions:
   1. The configuration file is an env file
   2. The configuration file, once it is made available to the application,
   will stay immutable during the uptime of the application (exception is test)
*/

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// An instance of the viper struct containing the conf information. Only made
// accessible through public functions GetEnv, SetEnv, etc.
var envVars *viper.Viper

const (
	configgood    uint8 = 0
	configbad     uint8 = 1
	noconfigfound uint8 = 2
)

var state uint8 = configgood

// setup reads local.env from dir. A failed read flips the package into
// environment-only mode.
func setup(dir string) *viper.Viper {
	var v = viper.New()
	v.SetConfigName("local")
	v.SetConfigType("env")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		state = configbad
	}

	return v
}

func init() {
	locations := []string{
		os.Getenv("DISPATCH_CONF_DIR"),
		"./shared_files/decrypted",
		"../shared_files/decrypted",
		"../../shared_files/decrypted",
	}

	if success, loc := findEnv(locations); success {
		envVars = setup(loc)
	} else {
		state = noconfigfound
	}
}

// findEnv walks the candidate locations in order and reports the first one
// holding a local.env file.
func findEnv(location []string) (bool, string) {
	if len(location) == 0 {
		return false, ""
	}

	if location[0] != "" {
		if _, err := os.Stat(location[0] + "/local.env"); err == nil {
			return true, location[0]
		}
	}

	return findEnv(location[1:])
}

// GetEnv retrieves the value stored in conf. If it does not exist "" is returned.
func GetEnv(key string) string {
	value, _ := LookupEnv(key)
	return value
}

// LookupEnv augments os.LookupEnv to look in the config file first.
func LookupEnv(key string) (string, bool) {
	if state == configgood && envVars != nil {
		if value := envVars.GetString(key); value != "" {
			return value, true
		}
	}

	return os.LookupEnv(key)
}

// SetEnv adds key values into conf. This function should only be used
// either in this package itself or testing. Protect parameter is type *testing.T, and is there
// to ensure developers knowingly use it in the appropriate scope.
func SetEnv(protect *testing.T, key string, value string) error {
	if state == configgood && envVars != nil {
		envVars.Set(key, value)
	}
	return os.Setenv(key, value)
}

// UnsetEnv "unsets" a variable. Like SetEnv, this should only be used
// either in this package itself or testing.
func UnsetEnv(protect *testing.T, key string) error {
	if state == configgood && envVars != nil {
		envVars.Set(key, "")
	}
	return os.Unsetenv(key)
}

// Checkout populates the struct pointed to by cfg. Each exported field tagged
// `conf:"KEY"` is filled from GetEnv(KEY), falling back to `conf_default:"VALUE"`.
// Embedded structs (or fields tagged `conf:",squash"`) are walked recursively.
func Checkout(cfg interface{}) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("conf: Checkout requires a non-nil pointer to a struct, got %T", cfg)
	}
	return checkout(rv.Elem())
}

func checkout(sv reflect.Value) error {
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		field, fv := st.Field(i), sv.Field(i)
		if !field.IsExported() {
			continue
		}

		key, tagged := field.Tag.Lookup("conf")
		if fv.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) &&
			(field.Anonymous || key == ",squash") {
			if err := checkout(fv); err != nil {
				return err
			}
			continue
		}
		if !tagged || key == "" {
			continue
		}

		value, found := LookupEnv(key)
		if !found || value == "" {
			value, found = field.Tag.Lookup("conf_default")
		}
		if !found {
			continue
		}

		if err := assign(fv, value); err != nil {
			return fmt.Errorf("conf: invalid value for %s: %w", key, err)
		}
	}
	return nil
}

func assign(fv reflect.Value, value string) error {
	if fv.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := cast.ToDurationE(value)
		if err != nil {
			return err
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(value)
	case reflect.Bool:
		b, err := cast.ToBoolE(value)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(value)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := cast.ToUint64E(value)
		if err != nil {
			return err
		}
		fv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", fv.Type())
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		fv.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field type %s", fv.Type())
	}
	return nil
}
