// Package media turns track references into playable sources.
//
// A Resolver answers two questions about a reference: what it is
// (ResolveMetadata) and where its audio can be read right now
// (ResolveStream). Stream locations are short lived and are never cached.
package media
