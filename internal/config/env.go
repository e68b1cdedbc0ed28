package config

import (
	"reflect"
	"strconv"
	"strings"
)

// envPrefix is the uppercase prefix of every recognized configuration
// override variable.
const envPrefix = "NETEVD_"

// ApplyEnvOverrides walks every scalar field reachable from the root of cfg
// and overrides it from an environment variable named
// NETEVD_<SECTION>_<FIELD...> (yaml tag names, underscored, upper-cased).
// NETEVD_LOG_LEVEL and NETEVD_BACKEND are accepted as short forms of
// NETEVD_SYSTEM_LOG_LEVEL and NETEVD_SYSTEM_BACKEND; the full name wins when
// both are set. The api, metrics and audit sections are opaque maps and are
// not overridden, so variables such as NETEVD_API_ENABLED have no effect.
//
// The original source left this as an explicit TODO and never picked
// between "every field" and "a curated subset" (two of its own config
// modules disagree, per spec §9's open question). netevd resolves this by
// covering every scalar field uniformly: a single, predictable convention
// beats a hand-maintained allowlist that silently drifts out of sync with
// the YAML schema.
func ApplyEnvOverrides(cfg *Config, environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	for short, full := range map[string]string{
		"NETEVD_LOG_LEVEL": "NETEVD_SYSTEM_LOG_LEVEL",
		"NETEVD_BACKEND":   "NETEVD_SYSTEM_BACKEND",
	} {
		if v, ok := env[short]; ok {
			if _, set := env[full]; !set {
				env[full] = v
			}
		}
	}
	walkAndOverride(reflect.ValueOf(cfg).Elem(), envPrefix, env)
}

func walkAndOverride(v reflect.Value, prefix string, env map[string]string) {
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}

		tag := field.Tag.Get("yaml")
		name := strings.Split(tag, ",")[0]
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		key := prefix + strings.ToUpper(name)

		switch fv.Kind() {
		case reflect.Struct:
			walkAndOverride(fv, key+"_", env)
		case reflect.String:
			if raw, ok := env[key]; ok {
				fv.SetString(raw)
			}
		case reflect.Bool:
			if raw, ok := env[key]; ok {
				if b, err := strconv.ParseBool(raw); err == nil {
					fv.SetBool(b)
				}
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if raw, ok := env[key]; ok {
				if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
					fv.SetInt(n)
				}
			}
		case reflect.Slice:
			if fv.Type().Elem().Kind() == reflect.String {
				if raw, ok := env[key]; ok {
					fv.Set(reflect.ValueOf(strings.Fields(raw)))
				}
			}
		}
	}
}
