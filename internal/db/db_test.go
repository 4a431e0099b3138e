package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/yourorg/secuscan/internal/model"
)

func TestFindingsInsert(t *testing.T) {
	chunk := []model.Finding{
		{Kind: "Security Misconfiguration", File: "AndroidManifest.xml", Severity: model.SeverityHigh, Description: "debuggable", Line: 4, Scanner: "android-manifest"},
		{Kind: "Hardcoded Secret", File: "a.env", Severity: model.SeverityMedium, Description: "secret"},
	}
	q, args := findingsInsert("run-1", 100, chunk)

	assert.Contains(t, q, "($1::uuid, $2, $3, $4, $5, $6, $7, $8), ($9::uuid, $10, $11, $12, $13, $14, $15, $16)")
	assert.Len(t, args, 16)
	assert.Equal(t, "run-1", args[0])
	assert.Equal(t, 100, args[1])
	assert.Equal(t, "android-manifest", *args[2].(*string))
	assert.Equal(t, 4, *args[5].(*int))
	assert.Equal(t, "HIGH", args[6])

	assert.Equal(t, 101, args[9])
	assert.Nil(t, args[10].(*string))
	assert.Nil(t, args[13].(*int))
}

func TestFindingsInsertPlaceholdersMatchArgs(t *testing.T) {
	chunk := make([]model.Finding, batchSize)
	for i := range chunk {
		chunk[i] = model.Finding{Kind: "k", File: fmt.Sprintf("f%d", i), Severity: model.SeverityLow, Description: "d"}
	}
	q, args := findingsInsert("run", 0, chunk)
	assert.Len(t, args, batchSize*8)
	assert.True(t, strings.Contains(q, fmt.Sprintf("$%d)", batchSize*8)))
	assert.False(t, strings.Contains(q, fmt.Sprintf("$%d", batchSize*8+1)))
}

func TestIsInsufficientPrivilege(t *testing.T) {
	assert.True(t, IsInsufficientPrivilege(fmt.Errorf("ensure schema: %w", &pgconn.PgError{Code: "42501"})))
	assert.False(t, IsInsufficientPrivilege(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, IsInsufficientPrivilege(errors.New("boom")))
}
