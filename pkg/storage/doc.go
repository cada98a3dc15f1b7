// Package storage defines the persistence interfaces and domain records for
// LabControl: users, the study catalog, studies with their result files, and
// the notification queue.
//
// Scoped reads and mutations take a policy.Predicate and compile it into the
// query (CompilePredicate), so visibility is enforced in the database rather
// than filtered after the fact. A row outside the predicate behaves exactly
// like a row that does not exist: reads return ErrNotFound and mutations
// affect zero rows.
//
// Result file bytes live in an AssetStore (local filesystem or S3); the
// database keeps only their metadata and object keys.
package storage
