// Discord implementation of the anti-nuke platform collaborator, using discordgo.
//
// Client implements platform.Platform over the REST API. Consumer subscribes to the gateway and feeds security events to the engine.
package discord
