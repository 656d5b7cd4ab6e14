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


package storage

import "errors"

var (
	// ErrMediumUnavailable indicates the storage medium could not be opened
	// or probed at startup. Vaults degrade to in-memory-only operation.
	ErrMediumUnavailable = errors.New("storage medium unavailable")

	// ErrUnreadablePayload indicates slot bytes that are neither a current
	// envelope nor a recognized legacy shape.
	ErrUnreadablePayload = errors.New("unreadable payload")

	// ErrChunkMissing indicates a chunk slot the manifest claims is absent.
	ErrChunkMissing = errors.New("chunk slot missing")

	// ErrStorageClosed indicates the medium has been closed.
	ErrStorageClosed = errors.New("storage is closed")
)
