package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UploadsTotal counts finished file-part uploads by status.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govault_uploads_total",
		Help: "Finished file-part uploads by status.",
	}, []string{"status"})

	// UploadBytesTotal counts raw bytes accepted from clients.
	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "govault_upload_bytes_total",
		Help: "Raw bytes accepted from upload parts.",
	})

	// UploadPartsRejected counts parts refused before any upload work.
	UploadPartsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govault_upload_parts_rejected_total",
		Help: "Upload parts rejected by admission checks.",
	}, []string{"reason"})
)

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}
