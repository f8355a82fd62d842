// Package progress holds the aggregation core: a registry of backend
// clients, each owning a set of in-flight tasks, plus the reaper that
// retires finished work after a grace period.
//
// The registry is an explicitly constructed instance (never a package
// global) so the ingestion layer and tests own their own state. All
// mutations are serialized by the registry mutex; timers re-validate
// state at fire time instead of being cancelled.
package progress
