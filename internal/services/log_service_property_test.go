package services

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
)

// Feature: email-ai-assistant, Property: system log completeness
// For any API request, fetch, processing failure or authentication event,
// after execution there is a matching row in the logs table with the right
// module, action and timestamp.

func TestProperty_LogCompleteness_APIRequest(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("api_request_creates_complete_log_entry", prop.ForAll(
		func(statusCode int) bool {
			db, cleanup := setupTestDB(t)
			defer cleanup()

			service := NewLogService(db)
			beforeTime := time.Now().Add(-time.Second)

			if err := service.LogAPIRequest("GET", "/api/emails", statusCode, 100, "127.0.0.1", "TestAgent"); err != nil {
				return false
			}

			afterTime := time.Now().Add(time.Second)

			var log models.Log
			if err := db.Where("module = ? AND action = ?", "api", "request").First(&log).Error; err != nil {
				return false
			}

			wantLevel := "INFO"
			if statusCode >= 500 {
				wantLevel = "ERROR"
			} else if statusCode >= 400 {
				wantLevel = "WARN"
			}

			return log.Level == wantLevel &&
				log.Message == "GET /api/emails" &&
				log.CreatedAt.After(beforeTime) &&
				log.CreatedAt.Before(afterTime)
		},
		gen.IntRange(200, 599),
	))

	properties.TestingRun(t)
}

func TestProperty_LogCompleteness_Fetch(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("fetch_outcome_recorded", prop.ForAll(
		func(providerID uint, created int, failed bool) bool {
			db, cleanup := setupTestDB(t)
			defer cleanup()

			service := NewLogService(db)
			var fetchErr error
			if failed {
				fetchErr = errors.New("connection reset")
			}
			if err := service.LogFetch(FetchOperationDetails{ProviderID: providerID, Created: created}, fetchErr); err != nil {
				return false
			}

			var log models.Log
			if err := db.Where("module = ? AND action = ?", "fetch", "fetch").First(&log).Error; err != nil {
				return false
			}
			if failed {
				return log.Level == "ERROR" && log.Message == "Failed to fetch emails"
			}
			return log.Level == "INFO" && log.Message == "Fetched emails successfully"
		},
		gen.UIntRange(1, 1000),
		gen.IntRange(0, 50),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestLogService_LevelFilter(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	service := NewLogServiceWithLevel(db, "warn", nil)
	if err := service.LogInfo(models.LogModuleFetch, "noise", "ignored", nil); err != nil {
		t.Fatalf("LogInfo failed: %v", err)
	}
	if err := service.LogAnalysisFailed(4, "gpt", 12, errors.New("timeout")); err != nil {
		t.Fatalf("LogAnalysisFailed failed: %v", err)
	}

	n, err := service.CountLogs(models.LogModuleFetch, "noise")
	if err != nil || n != 0 {
		t.Errorf("info entry stored below threshold: n=%d err=%v", n, err)
	}
	n, err = service.CountLogs(models.LogModuleProcess, "analysis_failed")
	if err != nil || n != 1 {
		t.Errorf("analysis_failed count = %d, err=%v", n, err)
	}
}

func TestLogService_QueryLogs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	service := NewLogService(db)
	for i := 0; i < 5; i++ {
		service.LogProviderAuthFailed(uint(i+1), "box", errors.New("535 bad credentials"))
	}
	service.LogLogin("alice", "10.0.0.1", true, nil)

	result, err := service.QueryLogs(LogQuery{Module: "provider", Limit: 2, Page: 2})
	if err != nil {
		t.Fatalf("QueryLogs failed: %v", err)
	}
	if result.Total != 5 {
		t.Errorf("total = %d, want 5", result.Total)
	}
	if len(result.Logs) != 2 {
		t.Errorf("page size = %d, want 2", len(result.Logs))
	}

	result, err = service.QueryLogs(LogQuery{Level: "error"})
	if err != nil {
		t.Fatalf("QueryLogs failed: %v", err)
	}
	if result.Total != 5 {
		t.Errorf("error level total = %d, want 5", result.Total)
	}
}
