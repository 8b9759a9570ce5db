// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorForbidden     = "FORBIDDEN"
	ErrorUnauthorized  = "UNAUTHORIZED"
	ErrorTimeout       = "TIMEOUT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 角色相关错误
	ErrorCharacterNotFound = "CHARACTER_NOT_FOUND"
	ErrorCharacterInvalid  = "CHARACTER_INVALID"

	// 剧情相关错误
	ErrorArcNotFound        = "ARC_NOT_FOUND"
	ErrorArcAlreadyActive   = "ARC_ALREADY_ACTIVE"
	ErrorScenarioNotFound   = "SCENARIO_NOT_FOUND"
	ErrorScenarioExecuted   = "SCENARIO_ALREADY_EXECUTED"
	ErrorScenarioNotActive  = "SCENARIO_NOT_ACTIVE"
	ErrorSummaryUnavailable = "SUMMARY_UNAVAILABLE"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"

	// 导出与档案
	ErrorExportFailed        = "EXPORT_FAILED"
	ErrorExportFormatInvalid = "EXPORT_FORMAT_INVALID"
	ErrorArchiveDisabled     = "ARCHIVE_DISABLED"
)
