// Anti-nuke component for suppressing duplicate incident log lines within a cooldown.
//
// Includes an interface and implementations using redis and in-process memory.
package dedupstore
