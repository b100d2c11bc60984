package actor

import (
	"fmt"
	"log"

	"github.com/louisbranch/actorstore/internal/errors"
	"github.com/louisbranch/actorstore/internal/storage"
)

// TransactionSync runs fn inside a SQL savepoint. Calls nest: each level
// gets a distinct savepoint named by the instance's current depth, and an
// inner failure undoes only the inner savepoint's effects.
//
// Requires a SQL-backed engine. The callback runs synchronously on the
// caller's turn, so no exclusivity gate is involved.
func (s *Storage) TransactionSync(fn func() error) error {
	sql := s.engine.SQL()
	if sql == nil {
		return errors.New(errors.CodePreconditionFailed,
			"transactionSync() requires a SQL-backed storage engine")
	}

	// The savepoint statement alone may not open an outer transaction
	// context; declare write intent first so one exists.
	sql.NotifyWrite()

	depth := s.txnSyncDepth
	s.txnSyncDepth++
	defer func() { s.txnSyncDepth-- }()

	name := fmt.Sprintf("_sync_savepoint_%d", depth)
	if err := sql.Run(storage.Trusted, "SAVEPOINT "+name); err != nil {
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Failure or panic path: undo this savepoint's effects, then drop
		// the savepoint itself.
		if err := sql.Run(storage.Trusted, "ROLLBACK TO "+name); err != nil {
			log.Printf("actor: rollback to savepoint %s failed: %v", name, err)
		}
		if err := sql.Run(storage.Trusted, "RELEASE "+name); err != nil {
			log.Printf("actor: release of savepoint %s failed: %v", name, err)
		}
	}()

	if err := fn(); err != nil {
		return err
	}
	committed = true
	return sql.Run(storage.Trusted, "RELEASE "+name)
}
