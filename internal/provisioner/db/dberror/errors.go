package dberror

import (
	"errors"
	"net/http"

	"github.com/carrierhub/provisioner/internal/common/apperrors"
	"github.com/jackc/pgconn"
)

var (
	ErrDatabase      apperrors.Error = apperrors.New("db error").SetStatusCode(http.StatusInternalServerError)
	ErrAlreadyExists apperrors.Error = ErrDatabase.New("already exists").SetStatusCode(http.StatusConflict)
	ErrNotFound      apperrors.Error = ErrDatabase.New("not found").SetStatusCode(http.StatusNotFound)
	ErrInvalidInput  apperrors.Error = ErrDatabase.New("invalid input").SetStatusCode(http.StatusBadRequest)
)

// Postgres SQLSTATE codes the stores react to.
const (
	codeUniqueViolation   = "23505"
	codeDuplicateDatabase = "42P04"
	codeDuplicateSchema   = "42P06"
	codeUndefinedTable    = "42P01"
	codeInvalidSchemaName = "3F000"
	codeForeignKey        = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsDuplicate reports unique violations and duplicate database or schema errors.
func IsDuplicate(err error) bool {
	switch pgCode(err) {
	case codeUniqueViolation, codeDuplicateDatabase, codeDuplicateSchema:
		return true
	}
	return false
}

// IsUndefined reports errors raised for a missing table or schema.
func IsUndefined(err error) bool {
	switch pgCode(err) {
	case codeUndefinedTable, codeInvalidSchemaName:
		return true
	}
	return false
}

func IsForeignKeyViolation(err error) bool {
	return pgCode(err) == codeForeignKey
}
