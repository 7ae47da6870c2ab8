// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/lalrtp/pkg/h2645"
	"github.com/q191201771/lalrtp/pkg/rtprtcp"
	"github.com/q191201771/naza/pkg/assert"
)

type frameCollector struct {
	frames []base.Frame
}

func (c *frameCollector) onFrame(frame base.Frame) {
	frame.Payload = append([]byte(nil), frame.Payload...)
	c.frames = append(c.frames, frame)
}

func (c *frameCollector) payloads() [][]byte {
	var out [][]byte
	for _, f := range c.frames {
		out = append(out, f.Payload)
	}
	return out
}

type packetMaker struct {
	seq uint16
}

func (m *packetMaker) make(ts uint32, mark bool, payload []byte) *rtprtcp.RtpPacket {
	h := rtprtcp.MakeDefaultRtpHeader()
	h.PacketType = 96
	h.Seq = m.seq
	h.Timestamp = ts
	h.Ssrc = 0x1234
	if mark {
		h.Mark = 1
	}
	m.seq++
	pkt := rtprtcp.NewRtpPacket()
	if err := pkt.Unpack(rtprtcp.PackRtp(h, nil, payload), time.Now()); err != nil {
		panic(err)
	}
	return pkt
}

func newTestUnpacker(t *testing.T, option rtprtcp.RtpUnpackerOption) (*rtprtcp.RtpUnpacker, *frameCollector) {
	c := &frameCollector{}
	u, err := rtprtcp.NewRtpUnpacker(option, c.onFrame)
	assert.Equal(t, nil, err)
	return u, c
}

func annexb(nals ...[]byte) []byte {
	var out []byte
	for _, nal := range nals {
		out = append(out, h2645.NaluStartCode4...)
		out = append(out, nal...)
	}
	return out
}

var (
	testSps = []byte{0x67, 0x42, 0xC0, 0x1E}
	testPps = []byte{0x68, 0xCE, 0x3C, 0x80}
	testIdr = []byte{0x65, 0x88, 0x84, 0x00}
)

func TestRtpUnpackerH264Fua(t *testing.T) {
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{CodecName: "h264", ClockRate: 90000})
	assert.Equal(t, base.FrameTypeVideo, u.FrameType())

	nal := make([]byte, 3001)
	nal[0] = 0x65
	for i := 1; i < len(nal); i++ {
		nal[i] = byte(i)
	}

	var m packetMaker
	indicator := (nal[0] & 0xE0) | rtprtcp.NaluTypeAvcFua
	body := nal[1:]
	u.Feed(m.make(90000, false, append([]byte{indicator, 0x80 | 5}, body[:1000]...)))
	u.Feed(m.make(90000, false, append([]byte{indicator, 5}, body[1000:2000]...)))
	assert.Equal(t, 0, len(c.frames))
	u.Feed(m.make(90000, true, append([]byte{indicator, 0x40 | 5}, body[2000:]...)))

	assert.Equal(t, 1, len(c.frames))
	assert.Equal(t, annexb(nal), c.frames[0].Payload)
	assert.Equal(t, int64(1000000), c.frames[0].TimestampUs)
	assert.Equal(t, base.FrameTypeVideo, c.frames[0].Type)
	assert.Equal(t, false, c.frames[0].Truncated)
	assert.Equal(t, uint64(1), u.Stat().Frames)
}

func TestRtpUnpackerH264Stapa(t *testing.T) {
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{CodecName: base.CodecNameH264})

	payload := []byte{rtprtcp.NaluTypeAvcStapa}
	for _, nal := range [][]byte{testSps, testPps, testIdr} {
		payload = append(payload, 0, byte(len(nal)))
		payload = append(payload, nal...)
	}
	var m packetMaker
	u.Feed(m.make(3600, true, payload))
	assert.Equal(t, [][]byte{annexb(testSps), annexb(testPps), annexb(testIdr)}, c.payloads())
	assert.Equal(t, int64(40000), c.frames[2].TimestampUs)

	// 长度字段超出剩余数据，丢弃剩余部分
	bad := []byte{rtprtcp.NaluTypeAvcStapa, 0, 4, 0x65, 1, 2, 3, 0, 100, 0x65, 1}
	u.Feed(m.make(7200, true, bad))
	assert.Equal(t, 4, len(c.frames))
	assert.Equal(t, uint64(1), u.Stat().MalformedPackets)
}

func TestRtpUnpackerH264ExtraData(t *testing.T) {
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{
		CodecName: base.CodecNameH264,
		ExtraData: annexb(testSps, testPps),
	})

	var m packetMaker
	u.Feed(m.make(0, true, testIdr))
	u.Feed(m.make(3600, true, testIdr))

	// 带外参数集只在第一帧前插入一次
	assert.Equal(t, 2, len(c.frames))
	assert.Equal(t, annexb(testSps, testPps, testIdr), c.frames[0].Payload)
	assert.Equal(t, annexb(testIdr), c.frames[1].Payload)

	// reset后重新插入
	u.Reset()
	u.Feed(m.make(7200, true, testIdr))
	assert.Equal(t, annexb(testSps, testPps, testIdr), c.frames[2].Payload)
}

func TestRtpUnpackerH264InbandParamSets(t *testing.T) {
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{
		CodecName: base.CodecNameH264,
		ExtraData: annexb([]byte{0x67, 0xFF}, []byte{0x68, 0xFF}),
	})

	// 带内的参数集和帧数据合成一帧，不再插入带外的
	var m packetMaker
	u.Feed(m.make(0, false, testSps))
	u.Feed(m.make(0, false, testPps))
	assert.Equal(t, 0, len(c.frames))
	u.Feed(m.make(0, true, testIdr))
	assert.Equal(t, [][]byte{annexb(testSps, testPps, testIdr)}, c.payloads())

	// 带起始码的单个nalu
	u.Feed(m.make(3600, true, annexb(testIdr)))
	assert.Equal(t, annexb(testIdr), c.frames[1].Payload)
}

func TestRtpUnpackerH264PendingParamSets(t *testing.T) {
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{
		CodecName:           base.CodecNameH264,
		MaxPendingParamSets: 2,
	})

	sps2 := []byte{0x67, 0x01}
	pps2 := []byte{0x68, 0x02}
	var m packetMaker
	u.Feed(m.make(0, false, testSps))
	u.Feed(m.make(0, false, testPps))
	u.Feed(m.make(0, false, sps2))
	u.Feed(m.make(0, false, pps2))
	u.Feed(m.make(0, true, testIdr))

	assert.Equal(t, [][]byte{annexb(sps2, pps2, testIdr)}, c.payloads())
	assert.Equal(t, uint64(2), u.Stat().DroppedParamSets)
}

func TestRtpUnpackerH264ParamSetOverflow(t *testing.T) {
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{
		CodecName:           base.CodecNameH264,
		MaxPendingParamSets: 1,
		MaxFrameBufferSize:  30,
	})

	// 未完成的fu-a占了25字节，后面的sps写入时溢出，缓存从头开始，只剩下sps
	var m packetMaker
	fu := append([]byte{0x60 | rtprtcp.NaluTypeAvcFua, 0x80 | 5}, bytes.Repeat([]byte{1}, 20)...)
	u.Feed(m.make(0, false, fu))
	u.Feed(m.make(0, false, testSps))
	assert.Equal(t, 0, len(c.frames))

	// 缓存中只有参数集并且数量已经达到上限，丢弃
	u.Feed(m.make(0, false, testPps))
	assert.Equal(t, uint64(1), u.Stat().DroppedParamSets)

	u.Feed(m.make(0, true, testIdr))
	assert.Equal(t, [][]byte{annexb(testPps, testIdr)}, c.payloads())
	assert.Equal(t, false, c.frames[0].Truncated)
}

func TestRtpUnpackerH265(t *testing.T) {
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{CodecName: "H265"})

	vps := []byte{0x40, 0x01, 0x0C}
	sps := []byte{0x42, 0x01, 0x01}
	pps := []byte{0x44, 0x01, 0xC1}

	// AP
	payload := []byte{rtprtcp.NaluTypeHevcAp << 1, 0x01}
	for _, nal := range [][]byte{vps, sps, pps} {
		payload = append(payload, 0, byte(len(nal)))
		payload = append(payload, nal...)
	}
	var m packetMaker
	u.Feed(m.make(0, false, payload))
	assert.Equal(t, [][]byte{annexb(vps), annexb(sps), annexb(pps)}, c.payloads())

	// FU，idr类型为19
	idr := make([]byte, 2+1500)
	idr[0] = h2645.H265NaluTypeSliceIdr << 1
	idr[1] = 0x01
	for i := 2; i < len(idr); i++ {
		idr[i] = byte(i)
	}
	fuHdr := []byte{rtprtcp.NaluTypeHevcFua << 1, 0x01}
	body := idr[2:]
	u.Feed(m.make(90000, false, append(append(append([]byte{}, fuHdr...), 0x80|h2645.H265NaluTypeSliceIdr), body[:700]...)))
	u.Feed(m.make(90000, false, append(append(append([]byte{}, fuHdr...), h2645.H265NaluTypeSliceIdr), body[700:1400]...)))
	u.Feed(m.make(90000, true, append(append(append([]byte{}, fuHdr...), 0x40|h2645.H265NaluTypeSliceIdr), body[1400:]...)))
	assert.Equal(t, 4, len(c.frames))
	assert.Equal(t, annexb(idr), c.frames[3].Payload)
	assert.Equal(t, int64(1000000), c.frames[3].TimestampUs)

	// 单个nalu
	trail := []byte{0x02, 0x01, 0xAA}
	u.Feed(m.make(93600, true, trail))
	assert.Equal(t, annexb(trail), c.frames[4].Payload)

	// 太短
	u.Feed(m.make(93600, true, []byte{0x02}))
	assert.Equal(t, uint64(1), u.Stat().MalformedPackets)
}

func TestRtpUnpackerMpeg4Generic(t *testing.T) {
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{
		CodecName:        "mpeg4-generic",
		ClockRate:        44100,
		SizeLength:       13,
		IndexLength:      3,
		IndexDeltaLength: 3,
	})
	assert.Equal(t, base.FrameTypeAudio, u.FrameType())

	// 两个au header，每个16位
	payload := []byte{0x00, 0x20, 0x00, 3 << 3, 0x00, 2 << 3, 0xA1, 0xA2, 0xA3, 0xB1, 0xB2}
	var m packetMaker
	u.Feed(m.make(44100, true, payload))
	assert.Equal(t, [][]byte{{0xA1, 0xA2, 0xA3}, {0xB1, 0xB2}}, c.payloads())
	assert.Equal(t, int64(1000000), c.frames[0].TimestampUs)
	assert.Equal(t, int64(1000000), c.frames[1].TimestampUs)
	assert.Equal(t, base.FrameTypeAudio, c.frames[1].Type)

	// au header区域不完整
	u.Feed(m.make(45124, true, []byte{0x00, 0x20, 0x00}))
	// au的大小超过剩余数据
	u.Feed(m.make(45124, true, []byte{0x00, 0x10, 0x00, 9 << 3, 0xA1}))
	assert.Equal(t, 2, len(c.frames))
	assert.Equal(t, uint64(2), u.Stat().MalformedPackets)
}

func TestRtpUnpackerOptionError(t *testing.T) {
	_, err := rtprtcp.NewRtpUnpacker(rtprtcp.RtpUnpackerOption{CodecName: base.CodecNameMpeg4Generic}, nil)
	assert.Equal(t, true, errors.Is(err, base.ErrMissingFmtp))

	_, err = rtprtcp.NewRtpUnpacker(rtprtcp.RtpUnpackerOption{CodecName: base.CodecNameMpeg4Generic, SizeLength: 13, IndexLength: 33}, nil)
	assert.Equal(t, true, errors.Is(err, base.ErrMissingFmtp))

	_, err = rtprtcp.NewRtpUnpacker(rtprtcp.RtpUnpackerOption{}, nil)
	assert.Equal(t, true, errors.Is(err, base.ErrUnknownCodec))

	// 不认识的格式按generic处理
	u, err := rtprtcp.NewRtpUnpacker(rtprtcp.RtpUnpackerOption{CodecName: "opus", MediaType: "audio"}, nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, base.FrameTypeAudio, u.FrameType())
}

func TestRtpUnpackerMpeg4Es(t *testing.T) {
	config := []byte{0, 0, 1, 0xB0, 0x01}
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{
		CodecName: base.CodecNameMpeg4Es,
		ExtraData: config,
	})

	var m packetMaker
	// 没有遇到起始码之前的数据丢弃
	u.Feed(m.make(0, true, []byte{0x11, 0x22}))
	assert.Equal(t, 0, len(c.frames))

	vop1 := []byte{0, 0, 1, 0xB6, 0x10}
	vop2 := []byte{0x20, 0x30}
	u.Feed(m.make(3600, false, vop1))
	u.Feed(m.make(3600, true, vop2))
	assert.Equal(t, 1, len(c.frames))
	assert.Equal(t, bytes.Join([][]byte{config, vop1, vop2}, nil), c.frames[0].Payload)

	// config只插入一次
	u.Feed(m.make(7200, true, vop1))
	assert.Equal(t, vop1, c.frames[1].Payload)
}

func TestRtpUnpackerAc3(t *testing.T) {
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{CodecName: "ac3", ClockRate: 48000})

	var m packetMaker
	// 完整帧
	u.Feed(m.make(0, false, []byte{0x00, 0x01, 0xA1, 0xA2}))
	assert.Equal(t, [][]byte{{0xA1, 0xA2}}, c.payloads())

	// 分片
	u.Feed(m.make(1536, false, []byte{0x01, 0x02, 0xB1}))
	u.Feed(m.make(1536, true, []byte{0x03, 0x02, 0xB2}))
	assert.Equal(t, []byte{0xB1, 0xB2}, c.frames[1].Payload)
	assert.Equal(t, int64(32000), c.frames[1].TimestampUs)

	// 没有起始分片的后续分片丢弃
	u.Feed(m.make(3072, true, []byte{0x03, 0x02, 0xC2}))
	assert.Equal(t, 2, len(c.frames))

	// 上一帧没有结束就开始了新的一帧，丢弃不完整的
	u.Feed(m.make(4608, false, []byte{0x01, 0x02, 0xD1}))
	u.Feed(m.make(6144, false, []byte{0x02, 0x02, 0xE1}))
	u.Feed(m.make(6144, true, []byte{0x03, 0x02, 0xE2}))
	assert.Equal(t, 3, len(c.frames))
	assert.Equal(t, []byte{0xE1, 0xE2}, c.frames[2].Payload)
}

func TestRtpUnpackerGeneric(t *testing.T) {
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{CodecName: "PCMA", ClockRate: 8000, MediaType: "audio"})

	var m packetMaker
	u.Feed(m.make(100, false, []byte{1, 2}))
	u.Feed(m.make(100, false, []byte{3}))
	assert.Equal(t, 0, len(c.frames))

	// 时间戳变化时，之前的数据成为一帧
	u.Feed(m.make(260, false, []byte{4}))
	assert.Equal(t, 1, len(c.frames))
	assert.Equal(t, []byte{1, 2, 3}, c.frames[0].Payload)
	assert.Equal(t, int64(12500), c.frames[0].TimestampUs)

	u.Feed(m.make(260, true, []byte{5}))
	assert.Equal(t, 2, len(c.frames))
	assert.Equal(t, []byte{4, 5}, c.frames[1].Payload)
	assert.Equal(t, int64(32500), c.frames[1].TimestampUs)
	assert.Equal(t, base.FrameTypeAudio, c.frames[1].Type)
}

func TestRtpUnpackerOverflow(t *testing.T) {
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{CodecName: base.CodecNameJpeg, MaxFrameBufferSize: 100})

	var m packetMaker
	u.Feed(m.make(0, false, bytes.Repeat([]byte{1}, 60)))
	u.Feed(m.make(0, true, bytes.Repeat([]byte{2}, 60)))

	// 溢出时缓存位置回到0，只剩下后来的数据
	assert.Equal(t, 1, len(c.frames))
	assert.Equal(t, bytes.Repeat([]byte{2}, 60), c.frames[0].Payload)
	assert.Equal(t, true, c.frames[0].Truncated)
	assert.Equal(t, uint64(1), u.Stat().TruncatedFrames)

	// 下一帧恢复正常
	u.Feed(m.make(3600, true, []byte{3}))
	assert.Equal(t, false, c.frames[1].Truncated)
}

func TestRtpUnpackerExtTimestamp(t *testing.T) {
	u, c := newTestUnpacker(t, rtprtcp.RtpUnpackerOption{CodecName: base.CodecNameH264})

	h := rtprtcp.MakeDefaultRtpHeader()
	h.Mark = 1
	h.Timestamp = 90000
	h.ExtProfile = rtprtcp.ExtProfileTimestamp
	pkt := rtprtcp.NewRtpPacket()
	assert.Equal(t, nil, pkt.Unpack(rtprtcp.PackRtp(h, rtprtcp.PackExtTimestamp(123456789), testIdr), time.Now()))
	u.Feed(pkt)

	assert.Equal(t, 1, len(c.frames))
	assert.Equal(t, int64(123456789), c.frames[0].TimestampUs)
}
