package apiservice

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type LoadStage string

const (
	LoadStagePending  LoadStage = "pending"
	LoadStageRunning  LoadStage = "running"
	LoadStageFinished LoadStage = "finished"
	LoadStageFailed   LoadStage = "failed"
)

type ServiceStatus string

const (
	ServiceStatusRunning    ServiceStatus = "running"
	ServiceStatusFatalError ServiceStatus = "fatal_error"
)

// APIInfo tracks the stage of every table of one run.
type APIInfo struct {
	stages             map[string]LoadStage
	errorMessages      map[string]string
	globalStatus       ServiceStatus
	globalErrorMessage string
	mu                 sync.Mutex
}

func NewAPIInfo(tables []string) *APIInfo {
	info := &APIInfo{
		stages:        make(map[string]LoadStage, len(tables)),
		errorMessages: make(map[string]string),
		globalStatus:  ServiceStatusRunning,
	}
	for _, table := range tables {
		info.stages[table] = LoadStagePending
	}
	return info
}

func (s *APIInfo) registerRouter(router *gin.Engine) {
	router.GET("/info", func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.globalStatus == ServiceStatusFatalError {
			c.JSON(http.StatusOK, gin.H{
				"status":        s.globalStatus,
				"error_message": s.globalErrorMessage,
			})
		} else {
			c.JSON(http.StatusOK, gin.H{
				"status":        s.globalStatus,
				"stages":        s.stages,
				"error_message": s.errorMessages,
			})
		}
	})
}

func (s *APIInfo) SetStage(table string, stage LoadStage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stages[table] == LoadStageFailed {
		log.Warn("Ignored stage change of failed table", zap.String("table", table), zap.String("stage", string(stage)))
		return
	}
	s.stages[table] = stage
}

// SetFailed marks table as failed. Only the first error is kept.
func (s *APIInfo) SetFailed(table string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stages[table] == LoadStageFailed {
		log.Warn("Ignored new load error", zap.String("table", table), zap.Error(err))
		return
	}
	s.stages[table] = LoadStageFailed
	s.errorMessages[table] = err.Error()
}

func (s *APIInfo) Stage(table string) LoadStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stages[table]
}

func (s *APIInfo) SetGlobalStatusFatalError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.globalStatus == ServiceStatusFatalError {
		log.Warn("Ignored new fatal errors", zap.Error(err))
		return
	}
	s.globalStatus = ServiceStatusFatalError
	s.globalErrorMessage = err.Error()
}
