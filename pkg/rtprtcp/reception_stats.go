// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

import (
	"sort"
	"time"
)

// 通过收到的rtp包和rtcp sr包，统计每个ssrc的接收情况，用于生成rtcp rr中的report block

// ReceptionStats 单个ssrc的接收统计
//
// total开头的是整个会话的统计，sinceLastReset结尾的是上一次发送rr之后的统计
type ReceptionStats struct {
	ssrc uint32

	totNumPacketsReceived uint32
	totBytesReceived      uint64

	numPacketsReceivedSinceLastReset uint32
	bytesReceivedSinceLastReset      uint64

	haveSeenInitialSequenceNumber bool
	baseExtSeqNumReceived         uint32
	lastResetExtSeqNumReceived    uint32
	highestExtSeqNumReceived      uint32

	// 放大了16倍，见 Jitter
	jitter          uint32
	haveSeenTransit bool
	lastTransit     int32

	lastReceivedSrNtpMsw uint32
	lastReceivedSrNtpLsw uint32
	lastReceivedSrRtpTs  uint32
	lastReceivedSrTime   time.Time

	lastPacketReceptionTime time.Time
	minInterPacketGapUs     int64
	maxInterPacketGapUs     int64
	totalInterPacketGapsUs  int64
}

func newReceptionStats(ssrc uint32) *ReceptionStats {
	return &ReceptionStats{
		ssrc:                ssrc,
		minInterPacketGapUs: 0x7FFFFFFF,
	}
}

func (s *ReceptionStats) initSeqNum(seq uint16) {
	s.haveSeenInitialSequenceNumber = true
	s.baseExtSeqNumReceived = uint32(seq)
	s.highestExtSeqNumReceived = uint32(seq)
	s.lastResetExtSeqNumReceived = uint32(seq)
}

// noteIncomingPacket
//
// @param clockRate: rtp时间戳的频率，用于计算jitter
func (s *ReceptionStats) noteIncomingPacket(seq uint16, rtpTs uint32, clockRate uint32, packetSize int, now time.Time) {
	if !s.haveSeenInitialSequenceNumber {
		s.initSeqNum(seq)
	}

	s.numPacketsReceivedSinceLastReset++
	s.totNumPacketsReceived++
	s.bytesReceivedSinceLastReset += uint64(packetSize)
	s.totBytesReceived += uint64(packetSize)

	// 把16位的seq扩展成32位，高16位是翻转的次数
	oldSeq := uint16(s.highestExtSeqNumReceived & 0xFFFF)
	cycle := s.highestExtSeqNumReceived & 0xFFFF0000
	if SeqLessThan(oldSeq, seq) {
		// 正常往前走，如果数值变小了，说明发生了翻转
		if seq < oldSeq {
			cycle += 0x10000
		}
		newExt := cycle | uint32(seq)
		if newExt > s.highestExtSeqNumReceived {
			s.highestExtSeqNumReceived = newExt
		}
	} else if s.totNumPacketsReceived > 1 {
		// 乱序的老包，如果数值变大了，说明它属于上一轮
		if seq > oldSeq {
			cycle -= 0x10000
		}
		newExt := cycle | uint32(seq)
		if newExt < s.baseExtSeqNumReceived {
			s.baseExtSeqNumReceived = newExt
		}
	}

	if !s.lastPacketReceptionTime.IsZero() {
		gap := now.Sub(s.lastPacketReceptionTime).Microseconds()
		if gap > s.maxInterPacketGapUs {
			s.maxInterPacketGapUs = gap
		}
		if gap < s.minInterPacketGapUs {
			s.minInterPacketGapUs = gap
		}
		s.totalInterPacketGapsUs += gap
	}
	s.lastPacketReceptionTime = now

	// rfc3550 A.8 Estimating the Interarrival Jitter
	//
	// 物理时间和包时间的差值，都换算成包时间戳格式
	sec := uint32(now.Unix())
	usec := uint32(now.Nanosecond() / 1000)
	arrival := clockRate*sec + uint32((uint64(clockRate)*uint64(usec)+500000)/1000000)
	transit := int32(arrival - rtpTs)
	if !s.haveSeenTransit {
		s.haveSeenTransit = true
		s.lastTransit = transit
		return
	}
	d := transit - s.lastTransit
	s.lastTransit = transit
	if d < 0 {
		d = -d
	}
	// 一种设置jitter的方式
	// set: r.jitter += (float32(1)/16) * (d - r.jitter)
	// get: return r.jitter
	//
	// 另外一种方式
	// 对应的get: return r.jitter >> 4
	s.jitter += uint32(d) - ((s.jitter + 8) >> 4)
}

func (s *ReceptionStats) noteIncomingSr(msw, lsw, rtpTs uint32, now time.Time) {
	s.lastReceivedSrNtpMsw = msw
	s.lastReceivedSrNtpLsw = lsw
	s.lastReceivedSrRtpTs = rtpTs
	s.lastReceivedSrTime = now
}

func (s *ReceptionStats) reset() {
	s.numPacketsReceivedSinceLastReset = 0
	s.bytesReceivedSinceLastReset = 0
	s.lastResetExtSeqNumReceived = s.highestExtSeqNumReceived
}

func (s *ReceptionStats) Ssrc() uint32 {
	return s.ssrc
}

func (s *ReceptionStats) Jitter() uint32 {
	return s.jitter >> 4
}

func (s *ReceptionStats) BaseExtSeqNumReceived() uint32 {
	return s.baseExtSeqNumReceived
}

func (s *ReceptionStats) HighestExtSeqNumReceived() uint32 {
	return s.highestExtSeqNumReceived
}

func (s *ReceptionStats) LastResetExtSeqNumReceived() uint32 {
	return s.lastResetExtSeqNumReceived
}

func (s *ReceptionStats) TotNumPacketsReceived() uint32 {
	return s.totNumPacketsReceived
}

func (s *ReceptionStats) TotBytesReceived() uint64 {
	return s.totBytesReceived
}

func (s *ReceptionStats) NumPacketsReceivedSinceLastReset() uint32 {
	return s.numPacketsReceivedSinceLastReset
}

func (s *ReceptionStats) TotNumPacketsExpected() uint32 {
	return s.highestExtSeqNumReceived - s.baseExtSeqNumReceived
}

// TotNumPacketsLost 累计丢包数，限制在24位有符号数的范围内
func (s *ReceptionStats) TotNumPacketsLost() int32 {
	lost := int64(s.TotNumPacketsExpected()) - int64(s.totNumPacketsReceived)
	if lost > 0x7FFFFF {
		lost = 0x7FFFFF
	} else if lost < -0x800000 {
		lost = -0x800000
	}
	return int32(lost)
}

// PackedTotNumPacketsLost rr report block中cumulative number of packets lost字段的24位表示
func (s *ReceptionStats) PackedTotNumPacketsLost() uint32 {
	return uint32(s.TotNumPacketsLost()) & 0xFFFFFF
}

// LossFraction 上一次reset之后的丢包率，8位定点小数
func (s *ReceptionStats) LossFraction() uint8 {
	expected := s.highestExtSeqNumReceived - s.lastResetExtSeqNumReceived
	lost := int64(expected) - int64(s.numPacketsReceivedSinceLastReset)
	if expected == 0 || lost <= 0 {
		return 0
	}
	f := (lost << 8) / int64(expected)
	if f > 0xFF {
		f = 0xFF
	}
	return uint8(f)
}

func (s *ReceptionStats) LastReceivedSrNtp() (msw, lsw uint32) {
	return s.lastReceivedSrNtpMsw, s.lastReceivedSrNtpLsw
}

func (s *ReceptionStats) LastReceivedSrRtpTimestamp() uint32 {
	return s.lastReceivedSrRtpTs
}

func (s *ReceptionStats) LastReceivedSrTime() time.Time {
	return s.lastReceivedSrTime
}

// LastReceivedSrSenderTime 最近一次sr中发送端的墙上时间，没有收到过sr时为零值
func (s *ReceptionStats) LastReceivedSrSenderTime() time.Time {
	return MswLsw2Time(s.lastReceivedSrNtpMsw, s.lastReceivedSrNtpLsw)
}

// InterPacketGapUs 相邻两个包到达的时间间隔，单位微秒。收到的包少于2个时都为0
func (s *ReceptionStats) InterPacketGapUs() (minUs, maxUs, totalUs int64) {
	if s.totNumPacketsReceived < 2 {
		return 0, 0, 0
	}
	return s.minInterPacketGapUs, s.maxInterPacketGapUs, s.totalInterPacketGapsUs
}

// ---------------------------------------------------------------------------------------------------------------------

// ReceptionStatsDb 所有ssrc的接收统计
type ReceptionStatsDb struct {
	table map[uint32]*ReceptionStats

	totNumPacketsReceived          uint32
	numActiveSourcesSinceLastReset int
}

func NewReceptionStatsDb() *ReceptionStatsDb {
	return &ReceptionStatsDb{
		table: make(map[uint32]*ReceptionStats),
	}
}

func (db *ReceptionStatsDb) NoteIncomingPacket(ssrc uint32, seq uint16, rtpTs uint32, clockRate uint32, packetSize int, now time.Time) *ReceptionStats {
	db.totNumPacketsReceived++

	stats, ok := db.table[ssrc]
	if !ok {
		stats = newReceptionStats(ssrc)
		db.table[ssrc] = stats
	}
	if stats.numPacketsReceivedSinceLastReset == 0 {
		db.numActiveSourcesSinceLastReset++
	}
	stats.noteIncomingPacket(seq, rtpTs, clockRate, packetSize, now)
	return stats
}

// NoteIncomingSr 收到sr时调用，记录的信息用于计算rr中的LSR和DLSR
func (db *ReceptionStatsDb) NoteIncomingSr(ssrc uint32, msw, lsw, rtpTs uint32, now time.Time) {
	stats, ok := db.table[ssrc]
	if !ok {
		stats = newReceptionStats(ssrc)
		db.table[ssrc] = stats
	}
	stats.noteIncomingSr(msw, lsw, rtpTs, now)
}

// Reset 每次生成rr后调用，只清空周期性的统计
func (db *ReceptionStatsDb) Reset() {
	db.numActiveSourcesSinceLastReset = 0
	for _, stats := range db.table {
		stats.reset()
	}
}

func (db *ReceptionStatsDb) Lookup(ssrc uint32) *ReceptionStats {
	return db.table[ssrc]
}

func (db *ReceptionStatsDb) Remove(ssrc uint32) {
	delete(db.table, ssrc)
}

func (db *ReceptionStatsDb) Size() int {
	return len(db.table)
}

func (db *ReceptionStatsDb) TotNumPacketsReceived() uint32 {
	return db.totNumPacketsReceived
}

func (db *ReceptionStatsDb) NumActiveSourcesSinceLastReset() int {
	return db.numActiveSourcesSinceLastReset
}

// ActiveStats 上一次reset之后收到过rtp包的所有ssrc，按ssrc升序排列
func (db *ReceptionStatsDb) ActiveStats() []*ReceptionStats {
	var out []*ReceptionStats
	for _, stats := range db.table {
		if stats.numPacketsReceivedSinceLastReset > 0 {
			out = append(out, stats)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ssrc < out[j].ssrc
	})
	return out
}

// All 所有ssrc，按ssrc升序排列
func (db *ReceptionStatsDb) All() []*ReceptionStats {
	out := make([]*ReceptionStats, 0, len(db.table))
	for _, stats := range db.table {
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ssrc < out[j].ssrc
	})
	return out
}
