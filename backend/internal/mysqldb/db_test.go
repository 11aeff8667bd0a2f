package mysqldb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestIsDuplicate(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	if !isDuplicate(dup) {
		t.Fatalf("1062 not detected")
	}
	if !isDuplicate(fmt.Errorf("insert like: %w", dup)) {
		t.Fatalf("wrapped 1062 not detected")
	}
	if isDuplicate(&mysql.MySQLError{Number: 1213}) || isDuplicate(errors.New("boom")) {
		t.Fatalf("non-duplicate reported as duplicate")
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_a\b`); got != `50\%\_a\\b` {
		t.Fatalf("escapeLike = %q", got)
	}
}
