// Package discovery walks a troupe's source folders and turns the files it
// finds into events.
//
// Traversal is sequential and driven by an explicit LIFO worklist. Folder
// ownership lives in a claim table indexed by event type position: each
// folder maps to exactly one owning event type, and each event type carries
// a count of source files discovered under it. When a folder already owned
// by one event type turns up under another, the owner keeps it only if its
// count is strictly lower than the challenger's; otherwise the folder moves
// to the challenger, the counts shift by one and the folder is expanded again
// under its new owner. A folder is expanded at most once per owner, which
// bounds the traversal even when ownership flips back and forth.
//
// Listing failures are isolated: the folder is dropped from its owner and
// traversal continues. New folders and new events are admitted only while
// the quota projection allows.
package discovery
