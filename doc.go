// Package notesync mirrors an account's encrypted note collection
// between a local content-addressed tree
// and a remote snapshot published under the account's name.
//
// Every file and directory in the tree is identified by its hash,
// the sha2-256 digest of its encoding.
// Equal hashes mean identical trees,
// so two replicas can be compared a subtree at a time
// without looking inside the subtrees that agree.
// What hashes cannot say is which of two differing versions is newer,
// so each note carries a small plaintext "mtime" file
// used only to break that tie.
//
// A replica publishes the hash of its tree under the account id
// through a name-resolution service
// (the hub subpackage provides one).
// Another replica resolves that name,
// merges the remote tree into its own
// (see the merge subpackage),
// and publishes the result if it differs.
// Deleted notes move into a parallel trash tree,
// which is merged like any other,
// so deletions converge too.
//
// The account subpackage ties these pieces together.
// The mfs subpackage implements the tree itself
// on top of a block store
// (the blob subpackage and its backends).
package notesync
