// Package coordinator implements the single-source-of-truth resource
// cache: a ResourceCoordinator manages a family of keys that share one
// storage.Backend, one origin FetchFunc and one staleness.Policy,
// publishing every refresh as a Resource[V] over a per-key broadcast
// stream. It plays the role shardcache's cache.Cache played there, but
// trades bounded LRU eviction for unbounded, staleness-policy-driven
// refresh with multi-subscriber streaming.
package coordinator
