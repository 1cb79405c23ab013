// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrPassInProgress — проход реконсиляции уже выполняется.
	ErrPassInProgress = errors.New("проход реконсиляции уже выполняется")
	// ErrNoIdentifier — payload не содержит идентифицирующего ключа.
	ErrNoIdentifier = errors.New("payload не содержит идентифицирующего ключа")
	// ErrFeedDisabled — внешний фид не сконфигурирован.
	ErrFeedDisabled = errors.New("внешний фид не сконфигурирован")
)
