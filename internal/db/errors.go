package db

import "github.com/pierre-mcp/pierre/pkg/errx"

var ErrRegistry = errx.NewRegistry("DB")

var (
	codeNotFound   = ErrRegistry.Register("not_found", errx.TypeNotFound, 404, "resource not found")
	codeConflict   = ErrRegistry.Register("conflict", errx.TypeConflict, 409, "resource conflict")
	codeEncryption = ErrRegistry.Register("encryption_failed", errx.TypeInternal, 500, "column encryption failure")
	codeRetryLimit = ErrRegistry.Register("retry_exhausted", errx.TypeInternal, 500, "transaction retry attempts exhausted")
	codeMigration  = ErrRegistry.Register("migration_failed", errx.TypeInternal, 500, "migration failed")
)

func ErrNotFound(resource string) *errx.Error {
	return ErrRegistry.New(codeNotFound).WithDetail("resource", resource)
}

func ErrConflict(detail string) *errx.Error {
	return ErrRegistry.New(codeConflict).WithDetail("detail", detail)
}

func ErrEncryption(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(codeEncryption, cause)
}

func ErrRetryExhausted(attempts int, cause error) *errx.Error {
	return ErrRegistry.NewWithCause(codeRetryLimit, cause).WithDetail("attempts", attempts)
}

func ErrMigration(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(codeMigration, cause)
}
