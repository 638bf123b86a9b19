// License keys and the per-tenant license oracle.
//
// A tenant is licensed while at least one key bound to it is permanent or unexpired. Keys are generated with a fixed duration (7d, 30d, permanent), bound by activation, and unbound by deactivation, revocation, or the periodic expiry sweep.
package licensestore
