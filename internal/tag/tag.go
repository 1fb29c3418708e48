// Package tag holds build-time feature flags checked by the cache package.
package tag

// Debug enables extra invariant hygiene (scrubbing an item's LRU pointers
// when it is detached) that is left out of production builds.
// Build with `-tags debug` to turn it on.
const Debug = debug
