// Incident records and the sink which posts them into tenant log channels.
package incident
