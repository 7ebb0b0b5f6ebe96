// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire implements the binary encoding used by orb.
//
// # Primitives
//
// Unsigned integers and enumerators are little-endian base-128 varints.
// Signed integers are zig-zag mapped first. Floats are fixed-width little
// endian. Strings and byte strings carry a varint length.
//
// # Encapsulations
//
// An encapsulation is a self-describing region:
//
//	major:u8 minor:u8 size:varint body[size]
//
// The body holds positional fields followed by the object table. Each
// encapsulation has its own type table and object ids, and encapsulations
// nest.
//
// # Objects
//
// Class instances are written by reference. A reference is a varint stream
// id (0 for nil). Payloads are deferred to the object table at the end of
// the encapsulation:
//
//	(count:varint payload[count])* 0
//
// The k-th payload in the table defines id k. A payload is a chain of
// segments, most-derived first:
//
//	flags:u8 (typeid:string | hash:u64 | index:varint) size:varint body[size]
//
// The first sighting of a type id in an encapsulation carries the id (or its
// 64-bit hash); later sightings carry its 1-based index. The base-most
// segment sets the last-segment flag.
//
// # Messages
//
// A message starts with an envelope, flags:u8 size:varint, where size
// counts the bytes after the envelope.
package wire
