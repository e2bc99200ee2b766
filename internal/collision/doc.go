// Package collision owns non-connected vehicle (NCV) collision checking for
// the host vehicle's plan.
//
// Responsibilities: per-object observation history with age-based pruning,
// cached motion predictions refreshed every perception cycle, the live host
// plan snapshot, margin-based conflict evaluation, and the rate-limited
// replan policy. Key types: Checker, ReplanScheduler, Params.
//
// Dependency rule: collision depends on route, perception, prediction,
// interpolation, conflict and guidance contracts, never on storage. Audit
// persistence is reached only through the EventRecorder interface.
package collision
