// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

import (
	"math/rand"
	"time"
)

// rfc3550 6.3 RTCP Packet Send and Receive Rules
// rfc3550 A.7 Computing the RTCP Transmission Interval
//
// 我们只接收，不发送rtp，所以senders始终为0

const (
	rtcpMinTime            = 5.0
	rtcpSenderBwFraction   = 0.25
	rtcpReceiverBwFraction = 1 - rtcpSenderBwFraction
	rtcpCompensation       = 2.71828 - 1.5
)

// RtcpScheduler 决定什么时候发送rtcp report
//
// 非协程安全。时间由调用方传入，便于测试
type RtcpScheduler struct {
	rtcpBw      float64 // 字节每秒
	minInterval time.Duration
	randFloat   func() float64

	avgRtcpSize    float64
	initial        bool
	prevReportTime time.Time // tp
	nextReportTime time.Time // tn
	prevNumMembers int
}

// NewRtcpScheduler
//
// @param sessionBwKbps: 会话总带宽，rtcp使用其中的5%
// @param minInterval:   两次发送之间的最小间隔，对随机化之后的结果生效
// @param randFloat:     返回[0, 1)的随机数，为nil时使用math/rand
func NewRtcpScheduler(sessionBwKbps int, minInterval time.Duration, randFloat func() float64, now time.Time, members int) *RtcpScheduler {
	if sessionBwKbps <= 0 {
		Log.Warnf("rtcp session bandwidth should not be zero. bw=%d", sessionBwKbps)
		sessionBwKbps = 1
	}
	if randFloat == nil {
		randFloat = rand.Float64
	}
	s := &RtcpScheduler{
		rtcpBw:         0.05 * float64(sessionBwKbps) * 1024 / 8,
		minInterval:    minInterval,
		randFloat:      randFloat,
		initial:        true,
		prevReportTime: now,
	}
	s.nextReportTime = now.Add(s.ComputeNextInterval(members))
	s.prevNumMembers = members
	return s
}

// ComputeNextInterval rtcp_interval
func (s *RtcpScheduler) ComputeNextInterval(members int) time.Duration {
	minTime := rtcpMinTime
	if s.initial {
		minTime /= 2
	}

	n := members
	bw := s.rtcpBw * rtcpReceiverBwFraction

	t := s.avgRtcpSize * float64(n) / bw
	if t < minTime {
		t = minTime
	}
	t = t * (s.randFloat() + 0.5)
	t = t / rtcpCompensation

	d := time.Duration(t * float64(time.Second))
	if d < s.minInterval {
		d = s.minInterval
	}
	return d
}

// OnExpire 检查是否到了发送时间，到了则调用<send>发送，<send>返回发送的字节数(包含ip和udp头)
//
// @return 是否发送了
func (s *RtcpScheduler) OnExpire(members int, now time.Time, send func() int) bool {
	sent := false
	tn := s.prevReportTime.Add(s.ComputeNextInterval(members))
	if !tn.After(now) {
		size := send()
		s.avgRtcpSize = float64(size)/16 + s.avgRtcpSize*15/16
		s.prevReportTime = now
		s.initial = false
		s.nextReportTime = now.Add(s.ComputeNextInterval(members))
		sent = true
	} else {
		s.nextReportTime = tn
	}
	s.prevNumMembers = members
	return sent
}

// OnReceiveReport 收到sr或rr
func (s *RtcpScheduler) OnReceiveReport(size int) {
	s.avgRtcpSize = float64(size)/16 + s.avgRtcpSize*15/16
}

// OnReceiveBye 收到bye，<members>为移除该成员之后的成员数
//
// reverse reconsideration，成员数变少时，提前下一次发送的时间
func (s *RtcpScheduler) OnReceiveBye(size int, members int, now time.Time) {
	s.avgRtcpSize = float64(size)/16 + s.avgRtcpSize*15/16
	if members < s.prevNumMembers && s.prevNumMembers > 0 {
		ratio := float64(members) / float64(s.prevNumMembers)
		s.nextReportTime = now.Add(time.Duration(ratio * float64(s.nextReportTime.Sub(now))))
		s.prevReportTime = now.Add(-time.Duration(ratio * float64(now.Sub(s.prevReportTime))))
		s.prevNumMembers = members
	}
}

func (s *RtcpScheduler) NextReportTime() time.Time {
	return s.nextReportTime
}

func (s *RtcpScheduler) PrevReportTime() time.Time {
	return s.prevReportTime
}

func (s *RtcpScheduler) AvgRtcpSize() float64 {
	return s.avgRtcpSize
}

func (s *RtcpScheduler) IsInitial() bool {
	return s.initial
}
