// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp_test

import (
	"errors"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/lalrtp/pkg/rtprtcp"
	"github.com/q191201771/naza/pkg/assert"
)

const (
	testLocalSsrc  = 0xABCD
	testRemoteSsrc = 0x1234
	testCname      = "tester@host"
)

type rtcpSink struct {
	packets [][]byte
}

func (s *rtcpSink) onSend(b []byte) error {
	s.packets = append(s.packets, append([]byte(nil), b...))
	return nil
}

func (s *rtcpSink) last() []byte {
	return s.packets[len(s.packets)-1]
}

func newTestRtcpInstance(db *rtprtcp.ReceptionStatsDb, sink *rtcpSink, now time.Time) *rtprtcp.RtcpInstance {
	return rtprtcp.NewRtcpInstance(testLocalSsrc, db, sink.onSend, now, func(option *rtprtcp.RtcpOption) {
		option.Cname = testCname
		option.RandFloat = func() float64 { return 0.5 }
	})
}

func marshalSr(t *testing.T, sr rtcp.SenderReport) []byte {
	b, err := sr.Marshal()
	assert.Equal(t, nil, err)
	return b
}

func TestParseSr(t *testing.T) {
	b := marshalSr(t, rtcp.SenderReport{
		SSRC:        testRemoteSsrc,
		NTPTime:     0x1122334455667788,
		RTPTime:     90000,
		PacketCount: 10,
		OctetCount:  1000,
	})
	assert.Equal(t, 28, len(b))

	h, err := rtprtcp.ParseRtcpHeader(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, uint8(2), h.Version)
	assert.Equal(t, uint8(0), h.CountOrFormat)
	assert.Equal(t, uint8(rtprtcp.RtcpPacketTypeSr), h.PacketType)
	assert.Equal(t, uint16(6), h.Length)

	sr, err := rtprtcp.ParseSr(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, rtprtcp.Sr{
		SenderSsrc: testRemoteSsrc,
		Msw:        0x11223344,
		Lsw:        0x55667788,
		Timestamp:  90000,
		PktCnt:     10,
		OctetCnt:   1000,
	}, sr)

	_, err = rtprtcp.ParseRtcpHeader(b[:3])
	assert.Equal(t, true, errors.Is(err, base.ErrRtpRtcpShortBuffer))
	_, err = rtprtcp.ParseSr(b[:27])
	assert.Equal(t, true, errors.Is(err, base.ErrRtpRtcpShortBuffer))
}

func TestRtcpInstanceSendReport(t *testing.T) {
	now := time.Unix(1600000000, 0)
	db := rtprtcp.NewReceptionStatsDb()
	for seq := uint16(100); seq <= 110; seq++ {
		if seq == 105 || seq == 107 {
			continue
		}
		db.NoteIncomingPacket(testRemoteSsrc, seq, uint32(seq)*3600, testClockRate, 100, now)
	}
	db.NoteIncomingSr(testRemoteSsrc, 0x11223344, 0x55667788, 0, now)

	sink := &rtcpSink{}
	r := newTestRtcpInstance(db, sink, now)
	assert.Equal(t, uint32(1), r.OutgoingReportCount())

	assert.Equal(t, nil, r.SendReport(now.Add(1500*time.Millisecond)))
	assert.Equal(t, 1, len(sink.packets))
	assert.Equal(t, uint32(2), r.OutgoingReportCount())
	assert.Equal(t, rtprtcp.IpUdpHeaderSize+len(sink.last()), r.LastSentSize())
	assert.Equal(t, 0, len(sink.last())%4)

	packets, err := rtcp.Unmarshal(sink.last())
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(packets))

	rr, ok := packets[0].(*rtcp.ReceiverReport)
	assert.Equal(t, true, ok)
	assert.Equal(t, uint32(testLocalSsrc), rr.SSRC)
	assert.Equal(t, 1, len(rr.Reports))
	block := rr.Reports[0]
	assert.Equal(t, uint32(testRemoteSsrc), block.SSRC)
	assert.Equal(t, uint8(25), block.FractionLost)
	assert.Equal(t, uint32(1), block.TotalLost)
	assert.Equal(t, uint32(110), block.LastSequenceNumber)
	assert.Equal(t, uint32(0x33445566), block.LastSenderReport)
	// 1.5秒，单位1/65536秒
	assert.Equal(t, uint32(65536+32768), block.Delay)

	sdes, ok := packets[1].(*rtcp.SourceDescription)
	assert.Equal(t, true, ok)
	assert.Equal(t, 1, len(sdes.Chunks))
	assert.Equal(t, uint32(testLocalSsrc), sdes.Chunks[0].Source)
	assert.Equal(t, 1, len(sdes.Chunks[0].Items))
	assert.Equal(t, rtcp.SDESCNAME, sdes.Chunks[0].Items[0].Type)
	assert.Equal(t, testCname, sdes.Chunks[0].Items[0].Text)

	// 统计已经reset，这期间没有收到包，不再携带report block
	assert.Equal(t, nil, r.SendReport(now.Add(3*time.Second)))
	packets, err = rtcp.Unmarshal(sink.last())
	assert.Equal(t, nil, err)
	rr = packets[0].(*rtcp.ReceiverReport)
	assert.Equal(t, 0, len(rr.Reports))
}

func TestRtcpInstanceSendBye(t *testing.T) {
	now := time.Now()
	sink := &rtcpSink{}
	r := newTestRtcpInstance(rtprtcp.NewReceptionStatsDb(), sink, now)

	assert.Equal(t, nil, r.SendBye(now))
	packets, err := rtcp.Unmarshal(sink.last())
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(packets))
	_, ok := packets[0].(*rtcp.ReceiverReport)
	assert.Equal(t, true, ok)
	_, ok = packets[1].(*rtcp.SourceDescription)
	assert.Equal(t, true, ok)
	bye, ok := packets[2].(*rtcp.Goodbye)
	assert.Equal(t, true, ok)
	assert.Equal(t, []uint32{testLocalSsrc}, bye.Sources)
}

func TestRtcpInstanceHandleIncoming(t *testing.T) {
	now := time.Now()
	db := rtprtcp.NewReceptionStatsDb()
	sink := &rtcpSink{}
	r := newTestRtcpInstance(db, sink, now)
	assert.Equal(t, 1, r.NumMembers())

	b, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.SenderReport{
			SSRC:    testRemoteSsrc,
			NTPTime: 0x1122334455667788,
			RTPTime: 3600,
		},
		&rtcp.SourceDescription{
			Chunks: []rtcp.SourceDescriptionChunk{{
				Source: testRemoteSsrc,
				Items:  []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: "remote"}},
			}},
		},
	})
	assert.Equal(t, nil, err)

	typ, err := r.HandleIncoming(b, now)
	assert.Equal(t, nil, err)
	assert.Equal(t, rtprtcp.RtcpReceivedTypeReport, typ)
	assert.Equal(t, 2, r.NumMembers())

	stats := db.Lookup(testRemoteSsrc)
	assert.Equal(t, false, stats == nil)
	msw, lsw := stats.LastReceivedSrNtp()
	assert.Equal(t, uint32(0x11223344), msw)
	assert.Equal(t, uint32(0x55667788), lsw)
	assert.Equal(t, uint32(3600), stats.LastReceivedSrRtpTimestamp())

	// rr开头的复合包同样接受，重复的成员不重复计数
	b, err = rtcp.Marshal([]rtcp.Packet{
		&rtcp.ReceiverReport{SSRC: testRemoteSsrc},
	})
	assert.Equal(t, nil, err)
	typ, err = r.HandleIncoming(b, now)
	assert.Equal(t, nil, err)
	assert.Equal(t, rtprtcp.RtcpReceivedTypeReport, typ)
	assert.Equal(t, 2, r.NumMembers())

	// 成员离开，接收统计一并删除
	b, err = rtcp.Marshal([]rtcp.Packet{
		&rtcp.ReceiverReport{SSRC: testRemoteSsrc},
		&rtcp.Goodbye{Sources: []uint32{testRemoteSsrc}},
	})
	assert.Equal(t, nil, err)
	typ, err = r.HandleIncoming(b, now)
	assert.Equal(t, nil, err)
	assert.Equal(t, rtprtcp.RtcpReceivedTypeBye, typ)
	assert.Equal(t, 1, r.NumMembers())
	assert.Equal(t, true, db.Lookup(testRemoteSsrc) == nil)

	// 离开后的rr不再携带该ssrc的report block
	assert.Equal(t, nil, r.SendReport(now))
	packets, err := rtcp.Unmarshal(sink.last())
	assert.Equal(t, nil, err)
	rr, ok := packets[0].(*rtcp.ReceiverReport)
	assert.Equal(t, true, ok)
	assert.Equal(t, 0, len(rr.Reports))
}

func TestRtcpInstanceReject(t *testing.T) {
	now := time.Now()
	db := rtprtcp.NewReceptionStatsDb()
	r := newTestRtcpInstance(db, &rtcpSink{}, now)

	_, err := r.HandleIncoming([]byte{0x80, 200, 0}, now)
	assert.Equal(t, true, errors.Is(err, base.ErrRtpRtcpShortBuffer))

	// app开头
	_, err = r.HandleIncoming([]byte{0x80, 204, 0, 1, 0, 0, 0, 1}, now)
	assert.Equal(t, true, errors.Is(err, base.ErrRtcpHeader))

	// 带padding位
	_, err = r.HandleIncoming([]byte{0xA0, 201, 0, 1, 0, 0, 0, 1}, now)
	assert.Equal(t, true, errors.Is(err, base.ErrRtcpHeader))

	b := marshalSr(t, rtcp.SenderReport{SSRC: testRemoteSsrc, NTPTime: 1<<32 | 2, RTPTime: 3})

	// 长度字段超过了实际长度
	bad := append([]byte(nil), b...)
	bad[3] = 7
	_, err = r.HandleIncoming(bad, now)
	assert.Equal(t, true, errors.Is(err, base.ErrRtcpSubPacket))

	// sr的sender info不完整
	_, err = r.HandleIncoming([]byte{0x80, 200, 0, 2, 0, 0, 0, 1, 0, 0, 0, 0}, now)
	assert.Equal(t, true, errors.Is(err, base.ErrRtcpSubPacket))

	// rc声明的report block不存在
	_, err = r.HandleIncoming([]byte{0x81, 201, 0, 1, 0, 0, 0, 1}, now)
	assert.Equal(t, true, errors.Is(err, base.ErrRtcpSubPacket))
	assert.Equal(t, 1, r.NumMembers())

	// 第一个子包合法，尾部有残缺，已经校验过的sr依然生效，但不计入成员
	bad = append(append([]byte(nil), b...), 0x80, 202)
	_, err = r.HandleIncoming(bad, now)
	assert.Equal(t, true, errors.Is(err, base.ErrRtcpSubPacket))
	assert.Equal(t, 1, r.NumMembers())
	stats := db.Lookup(testRemoteSsrc)
	assert.Equal(t, false, stats == nil)
	msw, lsw := stats.LastReceivedSrNtp()
	assert.Equal(t, uint32(1), msw)
	assert.Equal(t, uint32(2), lsw)

	// 后续子包版本号不对
	bad = append(append([]byte(nil), b...), 0x40, 202, 0, 0)
	_, err = r.HandleIncoming(bad, now)
	assert.Equal(t, true, errors.Is(err, base.ErrRtcpSubPacket))
}

func TestRtcpInstanceReapMembers(t *testing.T) {
	now := time.Now()
	db := rtprtcp.NewReceptionStatsDb()
	sink := &rtcpSink{}
	r := newTestRtcpInstance(db, sink, now)

	const quietSsrc = 0x5555
	db.NoteIncomingPacket(quietSsrc, 1, 0, testClockRate, 10, now)
	rr, _ := rtcp.Marshal([]rtcp.Packet{&rtcp.ReceiverReport{SSRC: quietSsrc}})
	_, err := r.HandleIncoming(rr, now)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, r.NumMembers())

	// 发送计数到5时，清理计数小于0的，不清理
	for i := 0; i < 4; i++ {
		assert.Equal(t, nil, r.SendReport(now))
	}
	assert.Equal(t, uint32(5), r.OutgoingReportCount())
	assert.Equal(t, 2, r.NumMembers())

	// 发送计数到10时，清理计数小于5的，该成员最后一次出现时计数为1
	for i := 0; i < 5; i++ {
		assert.Equal(t, nil, r.SendReport(now))
	}
	assert.Equal(t, uint32(10), r.OutgoingReportCount())
	assert.Equal(t, 1, r.NumMembers())
	assert.Equal(t, true, db.Lookup(quietSsrc) == nil)
}

func TestRtcpInstanceOnExpire(t *testing.T) {
	now := time.Unix(1600000000, 0)
	sink := &rtcpSink{}
	r := newTestRtcpInstance(rtprtcp.NewReceptionStatsDb(), sink, now)

	next := r.NextReportTime()
	assert.Equal(t, true, next.After(now))

	sent, err := r.OnExpire(next.Add(-time.Millisecond))
	assert.Equal(t, nil, err)
	assert.Equal(t, false, sent)
	assert.Equal(t, 0, len(sink.packets))

	sent, err = r.OnExpire(next)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, sent)
	assert.Equal(t, 1, len(sink.packets))
	assert.Equal(t, true, next.Equal(r.LastSendTime()))
	assert.Equal(t, true, r.NextReportTime().After(next))
}

func TestRtcpInstanceSendError(t *testing.T) {
	now := time.Now()
	r := rtprtcp.NewRtcpInstance(testLocalSsrc, nil, func(b []byte) error {
		return errors.New("mock")
	}, now)
	err := r.SendReport(now)
	assert.Equal(t, true, err != nil)
	assert.Equal(t, uint32(2), r.OutgoingReportCount())
}
