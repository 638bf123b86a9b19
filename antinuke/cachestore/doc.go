// Anti-nuke component for caching platform lookups, such as system channel IDs, with a fixed TTL.
//
// Includes an interface and implementations using redis and in-process memory. Values that are not strings are stored as JSON.
package cachestore
