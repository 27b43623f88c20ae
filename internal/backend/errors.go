package backend

import "errors"

// Ошибки runner'ов.
var (
	// ErrMissingFile — файл FT не найден в локальном каталоге.
	ErrMissingFile = errors.New("deployment file not found")

	// ErrChecksumMismatch — контрольная сумма на хосте не совпала.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrServiceInactive — сервис не активен после операции.
	ErrServiceInactive = errors.New("service is not active")

	// ErrReleaseNotDeployed — helm-релиз не в статусе deployed.
	ErrReleaseNotDeployed = errors.New("helm release is not deployed")
)
