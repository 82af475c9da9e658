package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	operationsStaged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_operations_staged_total",
		Help: "Sensitive operations staged for OTP confirmation",
	}, []string{"kind"})

	operationsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_operations_confirmed_total",
		Help: "Sensitive operations confirmed and applied",
	}, []string{"kind"})

	otpRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_otp_rejections_total",
		Help: "One-time code validations rejected",
	}, []string{"reason"})
)
