package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrConsoleDisabled    ErrCode = "CONSOLE_DISABLED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrConflict        ErrCode = "CONFLICT"
	ErrVariantNotFound ErrCode = "VARIANT_NOT_FOUND"
	ErrLoadFailed      ErrCode = "LOAD_FAILED"

	// ─── Attempt ───────────────────────────────────────────────────────
	ErrAttemptNotOpen     ErrCode = "ATTEMPT_NOT_OPEN"
	ErrAttemptFinished    ErrCode = "ATTEMPT_FINISHED"
	ErrAttemptNotFinished ErrCode = "ATTEMPT_NOT_FINISHED"
	ErrUnknownTask        ErrCode = "UNKNOWN_TASK"
	ErrIdentityRequired   ErrCode = "IDENTITY_REQUIRED"

	// ─── Reset codes ───────────────────────────────────────────────────
	ErrResetRejected      ErrCode = "RESET_REJECTED"
	ErrResetCodeRequired  ErrCode = "RESET_CODE_REQUIRED"
	ErrResetScopeRequired ErrCode = "RESET_SCOPE_REQUIRED"

	// ─── Console ───────────────────────────────────────────────────────
	ErrKeyNotResolvable ErrCode = "KEY_NOT_RESOLVABLE"
	ErrStaleResult      ErrCode = "STALE_RESULT"
	ErrFileRequired     ErrCode = "FILE_REQUIRED"
	ErrFileTooLarge     ErrCode = "FILE_TOO_LARGE"

	// ─── Result service ────────────────────────────────────────────────
	ErrRemoteUnavailable   ErrCode = "REMOTE_UNAVAILABLE"
	ErrRemoteNotConfigured ErrCode = "REMOTE_NOT_CONFIGURED"
	ErrRemoteRejected      ErrCode = "REMOTE_REJECTED"

	// ─── Concurrency / rate limiting ───────────────────────────────────
	ErrRequestInFlight   ErrCode = "REQUEST_IN_FLIGHT"
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Неверный токен доступа."
	case ErrSessionInvalidated:
		return "Сессия устройства завершена. Получите новый токен."
	case ErrTokenRequired:
		return "Требуется токен авторизации."
	case ErrTokenInvalid:
		return "Недействительный токен авторизации."
	case ErrConsoleDisabled:
		return "Консоль учителя не настроена на сервере."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Ошибка проверки данных. Проверьте введённые значения."
	case ErrInvalidID:
		return "Неверный формат идентификатора."
	case ErrInvalidPayload:
		return "Некорректное тело запроса."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Ресурс не найден."
	case ErrConflict:
		return "Конфликт состояния ресурса."
	case ErrVariantNotFound:
		return "Вариант не найден."
	case ErrLoadFailed:
		return "Не удалось загрузить вариант."

	// ─── Attempt ───────────────────────────────────────────────────────
	case ErrAttemptNotOpen:
		return "Попытка не открыта. Сначала выберите вариант."
	case ErrAttemptFinished:
		return "Работа уже завершена."
	case ErrAttemptNotFinished:
		return "Работа ещё не завершена."
	case ErrUnknownTask:
		return "Такого задания нет в варианте."
	case ErrIdentityRequired:
		return "Укажите ФИО и класс."

	// ─── Reset codes ───────────────────────────────────────────────────
	case ErrResetRejected:
		return "Код сброса не принят."
	case ErrResetCodeRequired:
		return "Введите код сброса."
	case ErrResetScopeRequired:
		return "Укажите предмет, вариант, класс и ФИО."

	// ─── Console ───────────────────────────────────────────────────────
	case ErrKeyNotResolvable:
		return "Не удалось определить ключ ответов."
	case ErrStaleResult:
		return "Ответ устарел: запущен более новый запрос."
	case ErrFileRequired:
		return "Требуется файл."
	case ErrFileTooLarge:
		return "Файл слишком большой."

	// ─── Result service ────────────────────────────────────────────────
	case ErrRemoteUnavailable:
		return "Сервис результатов недоступен."
	case ErrRemoteNotConfigured:
		return "Сервис результатов не настроен."
	case ErrRemoteRejected:
		return "Сервис результатов отклонил запрос."

	// ─── Concurrency / rate limiting ───────────────────────────────────
	case ErrRequestInFlight:
		return "Запрос уже выполняется."
	case ErrRateLimitExceeded:
		return "Слишком много запросов. Попробуйте позже."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Внутренняя ошибка сервера."
	default:
		return "Непредвиденная ошибка."
	}
}
