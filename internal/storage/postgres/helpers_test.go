package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the user_memories table. Defined in
// the postgres package so it can reach the unexported db field, exported so
// the postgres_test package can call it between tests.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE user_memories")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate user_memories: %w", err)
	}
	return nil
}
