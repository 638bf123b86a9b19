// Anti-nuke control panel: a read model of a tenant's toggles, license state, and allow-list size, rendered as a message in the tenant's panel channel and refreshed periodically.
package panel
