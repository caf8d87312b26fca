package apiservice

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pingcap-inc/stage2dw/pkg/metrics"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tidb/pkg/util/promutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type APIService struct {
	APIInfo *APIInfo
	Metric  *metrics.Metrics
	router  *gin.Engine
}

func New(tables []string) *APIService {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	apiInfo := NewAPIInfo(tables)
	apiInfo.registerRouter(r)

	metric := RegisterMetric(r)

	return &APIService{
		APIInfo: apiInfo,
		Metric:  metric,
		router:  r,
	}
}

// RegisterMetric registers the metric handler on a registry of its own.
func RegisterMetric(router *gin.Engine) *metrics.Metrics {
	metric := metrics.NewMetrics(promutil.NewDefaultFactory())
	registry := promutil.NewDefaultRegistry()
	metric.RegisterTo(registry)

	handler := promhttp.HandlerFor(registry.(prometheus.Gatherer), promhttp.HandlerOpts{})
	router.GET("/metrics", func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	})
	return metric
}

func (service *APIService) Handler() http.Handler {
	return service.router
}

// Serve serves the API on l until ctx is done.
func (service *APIService) Serve(ctx context.Context, l net.Listener) error {
	server := &http.Server{Handler: service.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(l)
	}()
	log.Info("API service started", zap.String("addr", l.Addr().String()))

	select {
	case err := <-errCh:
		return errors.Trace(err)
	case <-ctx.Done():
	}
	log.Info("Shutting down API service ...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Trace(err)
	}
	return nil
}
