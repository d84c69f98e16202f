// Package dedupe suppresses repeated keys inside a sliding time window.
package dedupe
