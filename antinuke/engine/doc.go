// Anti-nuke event pipeline: actor attribution, policy gating, burst detection, remediation, and deduplicated incident logging.
//
// Every SecurityEvent passes through Engine.ProcessEvent. Structural mutations (channel/role/webhook/guild changes) are attributed via the platform audit log, gated against tenant policy and license, reverted where possible, recorded, and only then punished. Message and join events feed the sliding-window detectors.
//
// Failures inside a single event are logged with a status label and never escape to the caller as fatal conditions.
package engine
