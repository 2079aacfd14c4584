// Package session holds the in-memory collection of chat sessions.
//
// The Repository is the single owner of session state. It keeps sessions in
// most-recently-created-first order and tracks which one is active:
//
//	repo := session.NewRepository()
//	s := repo.Create()                       // s becomes active
//	_ = repo.AppendMessage(s.ID, repo.NewMessage(types.RoleUser, "hi"))
//	repo.Select(otherID)                     // false if otherID is unknown
//	repo.Delete(s.ID)                        // promotes the newest remaining session
//
// Every method takes the repository lock for its whole duration, so each
// call is atomic with respect to the collection. Values returned to callers
// are deep copies; mutating them does not affect the repository.
//
// Invariants:
//
//   - the active id is empty iff the collection is empty, otherwise it names
//     a member of the collection;
//   - messages are append-only; edits change text in place and removals never
//     reorder the remaining messages;
//   - a session title is UntitledTitle until its first message is appended,
//     then derived once from that message with DeriveTitle.
package session
