package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"gorm.io/gorm"
)

// LogService records system events in the logs table and mirrors them to slog
type LogService struct {
	db       *gorm.DB
	logLevel models.LogLevel
	slog     *slog.Logger
}

// NewLogService creates a new LogService instance
func NewLogService(db *gorm.DB) *LogService {
	return &LogService{
		db:       db,
		logLevel: models.LogLevelInfo, // Default log level
		slog:     slog.Default(),
	}
}

// NewLogServiceWithLevel creates a new LogService instance with specified log level
func NewLogServiceWithLevel(db *gorm.DB, level string, logger *slog.Logger) *LogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogService{
		db:       db,
		logLevel: parseLogLevel(level),
		slog:     logger,
	}
}

// parseLogLevel converts a string to LogLevel
func parseLogLevel(level string) models.LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return models.LogLevelDebug
	case "INFO":
		return models.LogLevelInfo
	case "WARN", "WARNING":
		return models.LogLevelWarn
	case "ERROR":
		return models.LogLevelError
	default:
		return models.LogLevelInfo
	}
}

// SetLogLevel sets the minimum log level
func (s *LogService) SetLogLevel(level string) {
	s.logLevel = parseLogLevel(level)
}

// GetLogLevel returns the current log level
func (s *LogService) GetLogLevel() models.LogLevel {
	return s.logLevel
}

var levelPriority = map[models.LogLevel]int{
	models.LogLevelDebug: 0,
	models.LogLevelInfo:  1,
	models.LogLevelWarn:  2,
	models.LogLevelError: 3,
}

// shouldLog checks if a log entry should be recorded based on log level
func (s *LogService) shouldLog(level models.LogLevel) bool {
	return levelPriority[level] >= levelPriority[s.logLevel]
}

func slogLevel(level models.LogLevel) slog.Level {
	switch level {
	case models.LogLevelDebug:
		return slog.LevelDebug
	case models.LogLevelWarn:
		return slog.LevelWarn
	case models.LogLevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LogEntry represents a log entry to be created
type LogEntry struct {
	Level   models.LogLevel
	Module  models.LogModule
	Action  string
	Message string
	Details interface{} // Will be serialized to JSON
}

// Log creates a new log entry
func (s *LogService) Log(entry LogEntry) error {
	// Check if this log level should be recorded
	if !s.shouldLog(entry.Level) {
		return nil
	}

	var detailsJSON string
	if entry.Details != nil {
		bytes, err := json.Marshal(entry.Details)
		if err != nil {
			detailsJSON = "{}"
		} else {
			detailsJSON = string(bytes)
		}
	}

	s.slog.Log(context.Background(), slogLevel(entry.Level), entry.Message,
		"module", string(entry.Module), "action", entry.Action, "details", detailsJSON)

	log := &models.Log{
		Level:   string(entry.Level),
		Module:  string(entry.Module),
		Action:  entry.Action,
		Message: entry.Message,
		Details: detailsJSON,
	}

	return s.db.Create(log).Error
}

// LogInfo creates an INFO level log entry
func (s *LogService) LogInfo(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{Level: models.LogLevelInfo, Module: module, Action: action, Message: message, Details: details})
}

// LogWarn creates a WARN level log entry
func (s *LogService) LogWarn(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{Level: models.LogLevelWarn, Module: module, Action: action, Message: message, Details: details})
}

// LogError creates an ERROR level log entry
func (s *LogService) LogError(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{Level: models.LogLevelError, Module: module, Action: action, Message: message, Details: details})
}

// LogDebug creates a DEBUG level log entry
func (s *LogService) LogDebug(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{Level: models.LogLevelDebug, Module: module, Action: action, Message: message, Details: details})
}

// ===== Provider Logging =====

// ProviderChangeDetails represents details for provider configuration changes
type ProviderChangeDetails struct {
	ProviderID   uint   `json:"provider_id"`
	ProviderName string `json:"provider_name"`
	Kind         string `json:"kind"`
	Field        string `json:"field,omitempty"`
	NewValue     string `json:"new_value,omitempty"`
	ErrorMsg     string `json:"error_msg,omitempty"`
}

// LogProviderRegistered logs a provider registration
func (s *LogService) LogProviderRegistered(id uint, name, kind string) error {
	return s.LogInfo(models.LogModuleProvider, "create", "Provider registered", ProviderChangeDetails{
		ProviderID: id, ProviderName: name, Kind: kind,
	})
}

// LogProviderUpdated logs a provider configuration update
func (s *LogService) LogProviderUpdated(id uint, name, kind string) error {
	return s.LogInfo(models.LogModuleProvider, "update", "Provider updated", ProviderChangeDetails{
		ProviderID: id, ProviderName: name, Kind: kind,
	})
}

// LogProviderStatusChanged logs a provider being enabled or disabled
func (s *LogService) LogProviderStatusChanged(id uint, name, kind string, active bool) error {
	status := "disabled"
	if active {
		status = "enabled"
	}
	return s.LogInfo(models.LogModuleProvider, "status_change", "Provider "+status, ProviderChangeDetails{
		ProviderID: id, ProviderName: name, Kind: kind, Field: "active", NewValue: status,
	})
}

// LogProviderAuthFailed logs credentials rejected by a mailbox provider
func (s *LogService) LogProviderAuthFailed(id uint, name string, err error) error {
	return s.LogError(models.LogModuleProvider, "auth_failed", "Provider rejected credentials", ProviderChangeDetails{
		ProviderID: id, ProviderName: name, ErrorMsg: errString(err),
	})
}

// ===== Fetch Logging =====

// FetchOperationDetails represents details for fetch logs
type FetchOperationDetails struct {
	ProviderID uint   `json:"provider_id"`
	Fetched    int    `json:"fetched"`
	Created    int    `json:"created"`
	Duplicates int    `json:"duplicates"`
	Malformed  int    `json:"malformed,omitempty"`
	Failed     int    `json:"failed,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Status     string `json:"status"`
	ErrorMsg   string `json:"error_msg,omitempty"`
}

// LogFetch logs the outcome of one provider fetch unit
func (s *LogService) LogFetch(d FetchOperationDetails, err error) error {
	level := models.LogLevelInfo
	message := "Fetched emails successfully"
	d.Status = "success"

	switch {
	case err != nil:
		level = models.LogLevelError
		d.Status = "failed"
		d.ErrorMsg = err.Error()
		message = "Failed to fetch emails"
	case d.Failed > 0:
		level = models.LogLevelWarn
		d.Status = "partial"
		message = "Fetched emails, some could not be stored"
	}

	return s.Log(LogEntry{Level: level, Module: models.LogModuleFetch, Action: "fetch", Message: message, Details: d})
}

// ===== Processing Logging =====

// ProcessingOperationDetails represents details for processing logs
type ProcessingOperationDetails struct {
	EmailID    uint   `json:"email_id,omitempty"`
	ProviderID uint   `json:"provider_id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Model      string `json:"model,omitempty"`
	ErrorMsg   string `json:"error_msg,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// LogAnalysisFailed logs a classify call that produced no analysis
func (s *LogService) LogAnalysisFailed(emailID uint, model string, durationMs int64, err error) error {
	return s.LogWarn(models.LogModuleProcess, "analysis_failed", "Email analysis failed", ProcessingOperationDetails{
		EmailID: emailID, Model: model, DurationMs: durationMs, ErrorMsg: errString(err),
	})
}

// LogDraftFailed logs a draft call that produced no draft
func (s *LogService) LogDraftFailed(emailID uint, model string, err error) error {
	return s.LogWarn(models.LogModuleProcess, "draft_failed", "Draft generation failed", ProcessingOperationDetails{
		EmailID: emailID, Model: model, ErrorMsg: errString(err),
	})
}

// LogMalformedDropped logs a raw message that could not be normalized
func (s *LogService) LogMalformedDropped(providerID uint, externalID string, err error) error {
	return s.LogWarn(models.LogModuleProcess, "malformed_dropped", "Malformed message dropped", ProcessingOperationDetails{
		ProviderID: providerID, ExternalID: externalID, ErrorMsg: errString(err),
	})
}

// LogProcessFailed logs a fetched message that could not be stored. It stays
// unread and is fetched again.
func (s *LogService) LogProcessFailed(providerID uint, externalID string, err error) error {
	return s.LogError(models.LogModuleProcess, "ingest_failed", "Failed to store fetched message", ProcessingOperationDetails{
		ProviderID: providerID, ExternalID: externalID, ErrorMsg: errString(err),
	})
}

// ===== Send Logging =====

// SendOperationDetails represents details for send logs
type SendOperationDetails struct {
	EmailID   uint   `json:"email_id"`
	To        string `json:"to"`
	MessageID string `json:"message_id,omitempty"`
	Actor     string `json:"actor"`
	Status    string `json:"status"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// LogSend logs a reply send attempt
func (s *LogService) LogSend(d SendOperationDetails, err error) error {
	level := models.LogLevelInfo
	message := "Reply sent successfully"
	d.Status = "sent"

	if err != nil {
		level = models.LogLevelError
		d.Status = "failed"
		d.ErrorMsg = err.Error()
		message = "Failed to send reply"
	}

	return s.Log(LogEntry{Level: level, Module: models.LogModuleSend, Action: "send", Message: message, Details: d})
}

// ===== API Request Logging =====

// APIRequestDetails represents details for API request logs
type APIRequestDetails struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	Duration   int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// LogAPIRequest logs an API request
func (s *LogService) LogAPIRequest(method, path string, statusCode int, durationMs int64, clientIP, userAgent string) error {
	level := models.LogLevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = models.LogLevelWarn
	} else if statusCode >= 500 {
		level = models.LogLevelError
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleAPI,
		Action:  "request",
		Message: method + " " + path,
		Details: APIRequestDetails{
			Method:     method,
			Path:       path,
			StatusCode: statusCode,
			Duration:   durationMs,
			ClientIP:   clientIP,
			UserAgent:  userAgent,
		},
	})
}

// ===== Authentication Logging =====

// AuthOperationDetails represents details for authentication operation logs
type AuthOperationDetails struct {
	Username  string `json:"username,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	Status    string `json:"status"`
	ErrorMsg  string `json:"error_msg,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// LogLogin logs a login attempt
func (s *LogService) LogLogin(username, clientIP string, success bool, err error) error {
	details := AuthOperationDetails{
		Username: username,
		ClientIP: clientIP,
		Status:   "success",
	}

	level := models.LogLevelInfo
	message := "User logged in successfully"

	if !success {
		level = models.LogLevelWarn
		details.Status = "failed"
		message = "Login attempt failed"
		details.ErrorMsg = errString(err)
	}

	return s.Log(LogEntry{Level: level, Module: models.LogModuleAuth, Action: "login", Message: message, Details: details})
}

// LogAPIKeyValidation logs an API key validation attempt
func (s *LogService) LogAPIKeyValidation(success bool, clientIP string, err error) error {
	details := AuthOperationDetails{
		ClientIP: clientIP,
		Status:   "valid",
	}

	level := models.LogLevelDebug
	message := "API key validated successfully"

	if !success {
		level = models.LogLevelWarn
		details.Status = "invalid"
		message = "API key validation failed"
		details.ErrorMsg = errString(err)
	}

	return s.Log(LogEntry{Level: level, Module: models.LogModuleAuth, Action: "api_key_validation", Message: message, Details: details})
}

// LogAPIKeyReset logs an API key reset event
func (s *LogService) LogAPIKeyReset() error {
	return s.LogInfo(models.LogModuleAuth, "api_key_reset", "API key reset", nil)
}

// LogPasswordChange logs a password change event
func (s *LogService) LogPasswordChange(username string, success bool, err error) error {
	details := AuthOperationDetails{
		Username: username,
		Status:   "success",
	}

	level := models.LogLevelInfo
	message := "Password changed successfully"

	if !success {
		level = models.LogLevelWarn
		details.Status = "failed"
		message = "Password change failed"
		details.ErrorMsg = errString(err)
	}

	return s.Log(LogEntry{Level: level, Module: models.LogModuleAuth, Action: "password_change", Message: message, Details: details})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ===== Log Query Methods =====

// LogQuery represents query parameters for log retrieval
type LogQuery struct {
	Level     string
	Module    string
	Action    string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	Limit     int
}

// LogQueryResult represents the result of a log query
type LogQueryResult struct {
	Total int64
	Logs  []models.Log
}

// QueryLogs retrieves logs based on query parameters
func (s *LogService) QueryLogs(query LogQuery) (*LogQueryResult, error) {
	db := s.db.Model(&models.Log{})

	if query.Level != "" {
		db = db.Where("level = ?", strings.ToUpper(query.Level))
	}
	if query.Module != "" {
		db = db.Where("module = ?", query.Module)
	}
	if query.Action != "" {
		db = db.Where("action = ?", query.Action)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", query.EndTime)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}

	offset := (query.Page - 1) * query.Limit

	var logs []models.Log
	if err := db.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(query.Limit).Find(&logs).Error; err != nil {
		return nil, err
	}

	return &LogQueryResult{
		Total: total,
		Logs:  logs,
	}, nil
}

// CountLogs counts logs for a module and action. An empty action counts
// every action of the module.
func (s *LogService) CountLogs(module models.LogModule, action string) (int64, error) {
	var n int64
	query := s.db.Model(&models.Log{}).Where("module = ?", string(module))
	if action != "" {
		query = query.Where("action = ?", action)
	}
	err := query.Count(&n).Error
	return n, err
}
