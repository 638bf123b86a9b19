// Anti-nuke component for per-key sliding-window rate tracking and strike counting.
//
// Includes an interface and implementations using redis (sorted sets) and in-process memory.
package trackstore
