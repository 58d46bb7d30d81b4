// Package media describes the downloadable items known to the library and turns them
// into content pointers: a stable identifier, the URL the blob is fetched from and the
// local path it is stored at.
//
// Items form a closed set of provider variants. Code that needs to handle "any item"
// switches over the concrete types; the switch in Resolver.Pointer is the reference.
package media
