package collab

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "openboard_active_rooms",
		Help: "Number of rooms currently held by the room manager.",
	})
	openConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "openboard_open_connections",
		Help: "Number of live board socket connections.",
	})
	framesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openboard_frames_relayed_total",
		Help: "Frames published on room broadcast buses.",
	})
	snapshotsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openboard_snapshots_saved_total",
		Help: "Document snapshots successfully persisted.",
	})
	snapshotFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openboard_snapshot_failures_total",
		Help: "Document snapshot persistence failures.",
	})
	busDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openboard_bus_dropped_frames_total",
		Help: "Frames shed from slow subscribers' backlogs.",
	})
)
