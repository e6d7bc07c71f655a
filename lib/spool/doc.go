// Package spool implements the client side disk storage for messages that
// could not be delivered before shutdown.
//
// Layout:
//
//	<root>/<clientIdHex>/<messageTypeDecimal>/<contentHashHex>.bin
//	<root>/<clientIdHex>/<messageTypeDecimal>/<contentHashHex>.lock
//
// The .bin file holds the raw payload, everything else is encoded in the
// path. Files are written as <hash>.bin.tmp and renamed, so List never
// returns a partially written message. The .lock sibling is managed by a
// lockmgr.ILockManager and marks a file as taken by a disk sync sweep.
//
// All file system access goes through afero, tests use afero.NewMemMapFs().
package spool
