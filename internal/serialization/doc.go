// Package serialization reads and writes float32 tensors in the SafeTensors format.
//
// Every file the training drivers persist goes through this package: checkpoint
// parameters and solver state, Tacotron2 model snapshots, precomputed mel features and
// pre-normalized image shards.
//
//	Format Structure:
//	  [8 bytes: header size N (uint64 LE)]
//	  [N bytes: JSON header, name -> {dtype, shape, data_offsets}, plus "__metadata__"]
//	  [tensor data: raw little-endian bytes, tensors in alphabetical order]
//
// Files written here carry a SHA-256 checksum of the data section in
// __metadata__["sha256"]. The reader verifies it when present and returns
// ErrChecksumMismatch on corruption.
//
// Example usage:
//
//	err := serialization.WriteSafeTensors("params.safetensors", store.StateDict(), map[string]string{
//	    "epoch": "3",
//	})
//
//	tensors, meta, err := serialization.ReadSafeTensors("params.safetensors")
package serialization
