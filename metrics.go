/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	goerrors "errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = `avroconverter`

type storeMetrics struct {
	registrations *prometheus.CounterVec
	retries       *prometheus.CounterVec
}

type converterMetrics struct {
	messages *prometheus.CounterVec
	failures *prometheus.CounterVec
	bytes    *prometheus.HistogramVec
}

// newStoreMetrics returns nil when no registerer is configured, all methods are nil safe
func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	if reg == nil {
		return nil
	}

	return &storeMetrics{
		registrations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: `store`,
			Name:      `registrations_total`,
			Help:      `Schema registrations by subject and outcome (created or existing)`,
		}, []string{`subject`, `outcome`})),
		retries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: `store`,
			Name:      `registry_retries_total`,
			Help:      `Failed remote registry attempts by operation`,
		}, []string{`operation`})),
	}
}

func (m *storeMetrics) registered(subject string, created bool) {
	if m == nil {
		return
	}

	outcome := `existing`
	if created {
		outcome = `created`
	}
	m.registrations.WithLabelValues(subject, outcome).Inc()
}

func (m *storeMetrics) retried(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

func newConverterMetrics(reg prometheus.Registerer) *converterMetrics {
	if reg == nil {
		return nil
	}

	return &converterMetrics{
		messages: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: `converter`,
			Name:      `messages_total`,
			Help:      `Converted messages by operation and subject`,
		}, []string{`operation`, `subject`})),
		failures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: `converter`,
			Name:      `failures_total`,
			Help:      `Failed conversions by operation`,
		}, []string{`operation`})),
		bytes: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: `converter`,
			Name:      `payload_bytes`,
			Help:      `Encoded payload sizes`,
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		}, []string{`operation`})),
	}
}

func (m *converterMetrics) converted(operation, subject string, size int) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(operation, subject).Inc()
	m.bytes.WithLabelValues(operation).Observe(float64(size))
}

func (m *converterMetrics) failed(operation string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(operation).Inc()
}

// register reuses an already registered collector so several components can share a registerer
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if goerrors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}

	return c
}
