// Package metrics exposes Prometheus counters and histograms for the notifier.
package metrics
