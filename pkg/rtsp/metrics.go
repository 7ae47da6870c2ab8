// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtsp

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "lalrtp"

// 丢包原因
const (
	RejectReasonMalformed   = "malformed"
	RejectReasonPayloadType = "payload_type"
	RejectReasonLate        = "late_or_duplicate"
	RejectReasonState       = "state"
)

// Metrics 所有MediaSource和RelayHub共用，按source/stream做label区分
//
// nil的*Metrics可以直接使用，所有方法都是空操作
type Metrics struct {
	PacketsReceived *prometheus.CounterVec
	PacketsRejected *prometheus.CounterVec
	ReorderGaps     *prometheus.CounterVec
	FramesEmitted   *prometheus.CounterVec
	FramesTruncated *prometheus.CounterVec
	RtcpSent        *prometheus.CounterVec
	RtcpRejected    *prometheus.CounterVec

	Jitter         *prometheus.GaugeVec
	CumulativeLost *prometheus.GaugeVec
	FractionLost   *prometheus.GaugeVec
	LastSrTime     *prometheus.GaugeVec

	RelaySubscribers *prometheus.GaugeVec
	RelayPackets     *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	f := promauto.With(registerer)
	return &Metrics{
		PacketsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rtp_packets_received_total",
			Help:      "RTP packets accepted by the packet parser.",
		}, []string{"source"}),
		PacketsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rtp_packets_rejected_total",
			Help:      "RTP packets dropped before depacketization.",
		}, []string{"source", "reason"}),
		ReorderGaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rtp_reorder_gaps_total",
			Help:      "Times the reordering queue gave up waiting for a missing packet.",
		}, []string{"source"}),
		FramesEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_emitted_total",
			Help:      "Access units delivered to the frame callback.",
		}, []string{"source", "type"}),
		FramesTruncated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_truncated_total",
			Help:      "Access units whose frame buffer overflowed.",
		}, []string{"source"}),
		RtcpSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rtcp_packets_sent_total",
			Help:      "Compound RTCP packets sent.",
		}, []string{"source"}),
		RtcpRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rtcp_packets_rejected_total",
			Help:      "Incoming RTCP packets that failed validation.",
		}, []string{"source"}),
		Jitter: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rtp_jitter",
			Help:      "Interarrival jitter in timestamp units.",
		}, []string{"source", "ssrc"}),
		CumulativeLost: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rtp_cumulative_lost",
			Help:      "Cumulative number of packets lost.",
		}, []string{"source", "ssrc"}),
		FractionLost: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rtp_fraction_lost",
			Help:      "Fraction of packets lost since the previous report, in 1/256.",
		}, []string{"source", "ssrc"}),
		LastSrTime: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rtcp_last_sr_sender_time_seconds",
			Help:      "Sender wall-clock carried by the most recent RTCP SR, as unix seconds.",
		}, []string{"source", "ssrc"}),
		RelaySubscribers: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "relay_subscribers",
			Help:      "Active relay subscribers.",
		}, []string{"stream"}),
		RelayPackets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "relay_packets_total",
			Help:      "Packets written to relay subscribers.",
		}, []string{"stream"}),
	}
}

func (m *Metrics) onPacketReceived(source string) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(source).Inc()
}

func (m *Metrics) onPacketRejected(source, reason string) {
	if m == nil {
		return
	}
	m.PacketsRejected.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) onReorderGap(source string) {
	if m == nil {
		return
	}
	m.ReorderGaps.WithLabelValues(source).Inc()
}

func (m *Metrics) onFrame(source, frameType string, truncated bool) {
	if m == nil {
		return
	}
	m.FramesEmitted.WithLabelValues(source, frameType).Inc()
	if truncated {
		m.FramesTruncated.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) onRtcpSent(source string) {
	if m == nil {
		return
	}
	m.RtcpSent.WithLabelValues(source).Inc()
}

func (m *Metrics) onRtcpRejected(source string) {
	if m == nil {
		return
	}
	m.RtcpRejected.WithLabelValues(source).Inc()
}

func (m *Metrics) setReception(source string, ssrc uint32, jitter uint32, cumulativeLost int32, fractionLost uint8) {
	if m == nil {
		return
	}
	s := strconv.FormatUint(uint64(ssrc), 10)
	m.Jitter.WithLabelValues(source, s).Set(float64(jitter))
	m.CumulativeLost.WithLabelValues(source, s).Set(float64(cumulativeLost))
	m.FractionLost.WithLabelValues(source, s).Set(float64(fractionLost))
}

// setLastSr 没有收到过sr时不设置
func (m *Metrics) setLastSr(source string, ssrc uint32, senderTime time.Time) {
	if m == nil || senderTime.IsZero() {
		return
	}
	s := strconv.FormatUint(uint64(ssrc), 10)
	m.LastSrTime.WithLabelValues(source, s).Set(float64(senderTime.Unix()) + float64(senderTime.Nanosecond())/1e9)
}

func (m *Metrics) deleteSource(source string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"source": source}
	m.Jitter.DeletePartialMatch(labels)
	m.CumulativeLost.DeletePartialMatch(labels)
	m.FractionLost.DeletePartialMatch(labels)
	m.LastSrTime.DeletePartialMatch(labels)
}

func (m *Metrics) addRelaySubscriber(stream string, delta float64) {
	if m == nil {
		return
	}
	m.RelaySubscribers.WithLabelValues(stream).Add(delta)
}

func (m *Metrics) onRelayPacket(stream string) {
	if m == nil {
		return
	}
	m.RelayPackets.WithLabelValues(stream).Inc()
}
