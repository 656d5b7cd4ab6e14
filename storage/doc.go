// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package storage defines the key-value medium abstraction that vaults
// persist into, along with the slot naming scheme shared by every reader
// and writer of a collection.
//
// # Constructor Return Type Pattern
//
// Public constructors of medium implementations return the storage.Medium
// interface to keep callers decoupled from the backend:
//
//	medium, err := badger.OpenMedium(path, false)  // returns storage.Medium
//
// Internal constructors may return concrete types.
//
// # Slot layout
//
// Each named collection occupies one of two mutually exclusive layouts:
//
//   - single-entry: the slot named after the collection itself
//   - chunked: a manifest slot plus one slot per chunk
//
// Exactly one layout is authoritative at any time; writers must delete the
// residue of the other layout. The manifest slot is the discriminator: a
// reader that finds no manifest tries the single-entry slot.
//
// # Thread Safety
//
// Medium implementations must be safe for concurrent use from multiple
// goroutines. There is no cross-process locking; concurrent writers to the
// same collection follow last-write-wins semantics per slot.
package storage
