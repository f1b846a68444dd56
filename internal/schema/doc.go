// Package schema defines the records mirrored from the study API.
//
// Every record type implements Entity so the local store and the endpoint
// adapters can handle them generically. Records are JSON-encoded exactly as
// the remote API sends them; the same encoding is persisted locally.
//
// Identifiers
//
// Server ids are always positive. Records created while offline carry a
// synthetic negative id until the offline queue replays the create and the
// server assigns the real one.
//
// Timestamps
//
// Created/Updated are unix seconds. Review times (Subject.NextReview and the
// keys of Theme.Reviews) are unix hours.
package schema
