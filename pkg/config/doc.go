// Package config handles loading, validating, and applying configuration
// for the burrow service. Configuration is read from a YAML file and can be
// overridden by CLI flags.
//
// Durations are written as Go duration strings ("30s", "3m"). Validate is
// run after flags are applied, so a bad flag is reported the same way as a
// bad file.
package config
