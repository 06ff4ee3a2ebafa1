package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrExpired: connection past its expiry timestamp
// - ErrConflict: uniqueness constraint hit (duplicate sub, duplicate active autorisation)
// - ErrImmutable: attempted mutation of a write-once record (journal entries)
// - ErrRestricted: delete blocked because other records still reference the entity
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrExpired    = errors.New("expired")
	ErrImmutable  = errors.New("immutable")
	ErrRestricted = errors.New("restricted")
)
