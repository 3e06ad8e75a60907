// Package lookup is the client for the lookup registry, the central
// directory mapping federated cloud ids to the instance that owns them.
//
// Reads (Search, UsersDetails, Instances) degrade softly: any network or
// decoding failure is logged and reported as "not found" so callers can fall
// through to discovery. Writes (PushUsers, RemoveUsers) are best-effort
// upserts reconciled later by the periodic full resync.
package lookup
