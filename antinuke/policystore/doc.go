// Anti-nuke component holding per-tenant policy: feature toggles, the allow-list, thresholds, and system channel names.
//
// Includes an interface and implementations using a SQL database (gorm) and in-process memory.
//
// Policy is re-read on every event, so toggle changes take effect immediately. The auto_kick/auto_timeout exclusivity is enforced when toggles are written, not when they are read.
package policystore
