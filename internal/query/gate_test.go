package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsReadOnly(t *testing.T) {
	for _, q := range []string{
		"SELECT * FROM Transactions",
		"  select Amount from Transactions where AccountID = 'spending'  ",
		"SELECT CreatedAt, UpdatedBy, IsDeleted FROM Transactions",
		"SELECT\n  MIN(Amount) AS largest_expense\nFROM Transactions\nWHERE Amount < 0",
		"SELECT*FROM Transactions",
	} {
		assert.NoError(t, Validate(q), q)
	}
}

func TestValidate_RequiresSelectPrefix(t *testing.T) {
	for _, q := range []string{
		"",
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"SELECTED_ROWS",
		"-- comment\nSELECT 1",
		"SHOW TABLES",
	} {
		err := Validate(q)
		require.Error(t, err, q)
		assert.True(t, errors.Is(err, ErrRejected))
		assert.Equal(t, "Only SELECT queries are allowed", err.Error())
	}
}

func TestValidate_ForbiddenKeywordAnywhere(t *testing.T) {
	tests := []struct {
		query   string
		keyword string
	}{
		{"SELECT * FROM Transactions -- DROP TABLE Transactions", "DROP"},
		{"SELECT * FROM Transactions; drop table Transactions", "DROP"},
		{"SELECT * FROM t; DELETE FROM t", "DELETE"},
		{"SELECT * INTO Backup FROM Transactions", "INTO"},
		{"SELECT 1; EXEC sp_who", "EXEC"},
		{"SELECT * FROM t WHERE x = (SELECT 1); TRUNCATE TABLE t", "TRUNCATE"},
		{"SELECT * FROM OPENQUERY(x, 'select 1'); execute('x')", "EXECUTE"},
		{"SELECT sp_helptext", "SP_HELPTEXT"},
		{"SELECT xp_cmdshell", "XP_CMDSHELL"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			err := Validate(tt.query)
			require.Error(t, err)

			var rej *Rejection
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, tt.keyword, rej.Keyword)
		})
	}
}

func TestValidate_Pure(t *testing.T) {
	q := "SELECT * FROM Transactions -- DROP"
	first := Validate(q)
	second := Validate(q)
	assert.Equal(t, first, second)
}
