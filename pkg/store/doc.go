// Package store implements DiskStore, a single-node LSM key-value store.
//
//	        Set/Remove                      Get
//	            │                            │
//	            ▼                            ▼
//	   ┌─────────────────┐  shadows  ┌──────────────┐
//	   │  WAL (optional) │           │   Memtable   │──┐
//	   └────────┬────────┘           └──────┬───────┘  │ max timestamp
//	            ▼                           │ flush    │ wins
//	   ┌─────────────────┐                  ▼          │
//	   │    Memtable     │  ───────►  generation N     │
//	   └─────────────────┘            generation N-1 ◄─┘
//	                                  ...
//	                                  generation 0
//	                                        │ compact
//	                                        ▼
//	                                  one merged generation
//
// Every mutation runs under the write side of one writer-preferring
// reader/writer lock, and flushes and compactions run inside that
// section. Reads share the read side. A generation's files are never
// modified once written, so iterators keep reading them after the lock
// is released.
//
// The MANIFEST file in the store directory is the commit point: a flush
// or compaction takes effect when a manifest naming its output is durable.
package store
