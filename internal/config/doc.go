// Package config loads the runtime configuration shared by the vitals daemon
// and the offline trainer. Files may be JSON or YAML; unset fields receive
// defaults and relative paths are resolved against the config file directory.
package config
