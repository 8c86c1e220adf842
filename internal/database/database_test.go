package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageNormalize(t *testing.T) {
	tests := []struct {
		in   Page
		want Page
	}{
		{Page{}, Page{Limit: DefaultPageLimit}},
		{Page{Limit: -3, Before: -1}, Page{Limit: DefaultPageLimit}},
		{Page{Limit: 500, Before: 42}, Page{Limit: MaxPageLimit, Before: 42}},
		{Page{Limit: 7}, Page{Limit: 7}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Normalize())
	}
}

func TestPageBeforeOrMax(t *testing.T) {
	assert.Equal(t, int64(10), Page{Before: 10}.BeforeOrMax())
	assert.Equal(t, int64(1<<63-1), Page{}.BeforeOrMax())
}

func TestErrorCodes(t *testing.T) {
	unique := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})
	fk := &pgconn.PgError{Code: "23503"}
	check := &pgconn.PgError{Code: "23514"}

	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsUniqueViolation(fk))
	assert.True(t, IsForeignKeyViolation(fk))
	assert.True(t, IsCheckViolation(check))
	assert.False(t, IsUniqueViolation(errors.New("23505")))
	assert.Equal(t, "users_username_key", ConstraintName(unique))
	assert.Equal(t, "", ConstraintName(errors.New("plain")))
}

func TestLatestMigration(t *testing.T) {
	latest, err := LatestMigration()
	require.NoError(t, err)
	assert.Equal(t, uint(9), latest)
}

func TestMigrationStatusUpToDate(t *testing.T) {
	assert.True(t, MigrationStatus{Current: 9, Latest: 9}.UpToDate())
	assert.False(t, MigrationStatus{Current: 8, Latest: 9}.UpToDate())
	assert.False(t, MigrationStatus{Current: 9, Latest: 9, Dirty: true}.UpToDate())
}
