// Package metrics exposes the realtime server counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery channels of a notification.
const (
	ChannelSocket  = "socket"
	ChannelWebPush = "webpush"
	ChannelStored  = "stored"
)

type Metrics struct {
	// ConnectedSockets is the number of open /chat websockets.
	ConnectedSockets prometheus.Gauge

	// OnlineUsers is the number of distinct users with at least one socket.
	OnlineUsers prometheus.Gauge

	// MessagesRelayed counts chat messages accepted by the room.
	MessagesRelayed prometheus.Counter

	// TypingSignals counts relayed typing signals.
	// Labels: kind (start|stop)
	TypingSignals *prometheus.CounterVec

	// NotificationsDelivered counts notification deliveries.
	// Labels: channel (socket|webpush|stored)
	NotificationsDelivered *prometheus.CounterVec

	// DroppedFrames counts frames dropped because a socket's send buffer
	// was full.
	DroppedFrames prometheus.Counter
}

// New registers the server metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectedSockets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "btplive_connected_sockets",
			Help: "Number of open chat websockets",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "btplive_online_users",
			Help: "Number of users with at least one open websocket",
		}),
		MessagesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "btplive_messages_relayed_total",
			Help: "Total number of chat messages relayed",
		}),
		TypingSignals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btplive_typing_signals_total",
			Help: "Total number of relayed typing signals by kind",
		}, []string{"kind"}),
		NotificationsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btplive_notifications_delivered_total",
			Help: "Total number of notification deliveries by channel",
		}, []string{"channel"}),
		DroppedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "btplive_dropped_frames_total",
			Help: "Total number of frames dropped on full socket buffers",
		}),
	}
}

// Discard returns metrics registered nowhere.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
