// Package config handles loading and validating Gray Logic Relay configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (GRAYRELAY_* pattern)
//   - Validation of required fields and security constraints
//   - Default values for all tunables
//
// Configuration precedence (highest wins):
//  1. Environment variables
//  2. YAML file values
//  3. Hardcoded defaults
//
// The relay section controls the mailbox bridge itself: worker drain cadence,
// caller poll interval, call timeouts, and the mailbox retention window. The
// instances section lists the external hub instances the relay maintains
// persistent connections to; instance ids must be unique and non-empty.
package config
