// Package types holds the domain structs shared by the registry, shard,
// checkpoint, and transport packages: workers, datasets, shard assignments,
// and checkpoint metadata. Keeping them in one leaf package lets those
// packages depend on each other's outputs without import cycles.
package types
