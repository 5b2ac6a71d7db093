// Package versioning implements commit-based item history on top of a
// tenant-scoped store.
//
// Every mutation opens a draft derived from the head commit's base list,
// writes new immutable document snapshots, and finalizes a new commit that
// becomes head. Reads resolve through the head commit or an explicit
// historical commit and never write.
//
// Access always goes through a Client obtained from Engine.Tenant; the client
// holds a store handle bound to that tenant, so no query can be issued
// without the tenant filter.
package versioning
