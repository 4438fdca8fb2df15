// Package domain holds the value types shared across the delivery
// pipeline: provider configuration and health, messages and send
// results, canonical provider events, suppression entries, and metric
// aggregates.
//
// Everything here is plain data. The package imports nothing from the
// rest of the module, carries no connections or handlers, and keeps
// behavior limited to validation and derived-value helpers, so every
// other package can depend on it without cycles.
package domain
