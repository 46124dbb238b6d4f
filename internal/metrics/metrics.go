package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecorderTransitions counts state machine transitions by target state.
	RecorderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_recorder_transitions_total",
		Help: "Attendance recorder transitions by resulting state.",
	}, []string{"state"})

	// RecordsCommitted counts attendance records written.
	RecordsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faceattend_records_committed_total",
		Help: "Attendance records committed.",
	})

	// RecognitionFailures counts failed attempts by reason code.
	RecognitionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_recognition_failures_total",
		Help: "Failed recognition attempts by reason.",
	}, []string{"reason"})
)
