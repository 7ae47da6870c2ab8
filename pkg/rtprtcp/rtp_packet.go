// Copyright 2021, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

import (
	"time"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
)

// -----------------------------------
// rfc3550 5.1 RTP Fixed Header Fields
// -----------------------------------
//
// 0                   1                   2                   3
// 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |V=2|P|X|  CC   |M|     PT      |       sequence number         |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |                           timestamp                           |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |           synchronization source (SSRC) identifier            |
// +=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+
// |            contributing source (CSRC) identifiers             |
// |                             ....                              |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// -----------------------------------
// rfc3550 5.3.1 RTP Header Extension
// -----------------------------------
//
// 0                   1                   2                   3
// 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |      defined by profile       |           length              |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |                        header extension                       |
// |                             ....                              |

const (
	RtpFixedHeaderLength = 12

	DefaultRtpVersion = 2

	// ExtProfileTimestamp 私有扩展头，扩展数据的前8字节是64位的时间戳(微秒)
	ExtProfileTimestamp = 0x8110

	initRtpPacketBufSize = 2048
)

type RtpHeader struct {
	Version    uint8  // 2b  *
	Padding    uint8  // 1b
	Extension  uint8  // 1
	CsrcCount  uint8  // 4b
	Mark       uint8  // 1b  *
	PacketType uint8  // 7b
	Seq        uint16 // 16b **
	Timestamp  uint32 // 32b **** samples
	Ssrc       uint32 // 32b **** Synchronization source

	Csrc []uint32

	ExtProfile uint16
	ExtWords   uint16 // 扩展数据的长度，单位是4字节，不包含扩展头自身

	PaddingLength uint8
}

// RtpPacket 从网络上收到的一个rtp包
//
// 内部持有一块自己的内存，Unpack时把输入拷贝进来，payload是这块内存上的一个视图
// 通过 ReorderingQueue 的空闲链表复用
type RtpPacket struct {
	Header RtpHeader

	// ExtTimestamp 私有扩展头(ExtProfileTimestamp)中携带的时间戳，没有时为0
	ExtTimestamp int64

	TimeReceived time.Time

	// IsFirstPacket 是否是该源收到的第一个包
	IsFirstPacket bool

	buf          []byte
	length       int
	payloadBegin int
	payloadEnd   int

	next *RtpPacket
}

func NewRtpPacket() *RtpPacket {
	return &RtpPacket{
		buf: make([]byte, initRtpPacketBufSize),
	}
}

// Unpack 解析rtp包
//
// 函数调用结束后，不持有参数<b>的内存块
func (p *RtpPacket) Unpack(b []byte, now time.Time) error {
	p.reset()

	if len(b) < RtpFixedHeaderLength || len(b) > base.MaxRtpPacketSize {
		return base.NewErrRtpPacketSize(len(b))
	}
	if cap(p.buf) < len(b) {
		p.buf = make([]byte, len(b))
	}
	p.buf = p.buf[:len(b)]
	copy(p.buf, b)
	p.length = len(b)
	p.TimeReceived = now

	h := &p.Header
	b = p.buf
	h.Version = b[0] >> 6
	h.Padding = (b[0] >> 5) & 0x1
	h.Extension = (b[0] >> 4) & 0x1
	h.CsrcCount = b[0] & 0xF
	h.Mark = b[1] >> 7
	h.PacketType = b[1] & 0x7F
	h.Seq = bele.BeUint16(b[2:])
	h.Timestamp = bele.BeUint32(b[4:])
	h.Ssrc = bele.BeUint32(b[8:])

	if h.Version != DefaultRtpVersion {
		Log.Warnf("rtp version not 2. version=%d, seq=%d", h.Version, h.Seq)
	}

	pos := RtpFixedHeaderLength
	remain := p.length - pos

	if h.CsrcCount > 0 {
		need := int(h.CsrcCount) * 4
		if remain <= need {
			return base.NewErrRtpRtcpShortBuffer(need+1, remain, base.ErrRtpCsrc.Error())
		}
		for i := 0; i < int(h.CsrcCount); i++ {
			h.Csrc = append(h.Csrc, bele.BeUint32(b[pos+i*4:]))
		}
		pos += need
		remain -= need
	}

	if h.Extension == 1 {
		if remain <= 4 {
			return base.NewErrRtpRtcpShortBuffer(5, remain, base.ErrRtpExtension.Error())
		}
		h.ExtProfile = bele.BeUint16(b[pos:])
		h.ExtWords = bele.BeUint16(b[pos+2:])
		pos += 4
		remain -= 4

		extLen := 4 * int(h.ExtWords)
		if remain <= extLen {
			return base.NewErrRtpRtcpShortBuffer(extLen+1, remain, base.ErrRtpExtension.Error())
		}
		if h.ExtProfile == ExtProfileTimestamp && extLen >= 8 {
			p.ExtTimestamp = int64(uint64(bele.BeUint32(b[pos:]))<<32 | uint64(bele.BeUint32(b[pos+4:])))
		}
		pos += extLen
		remain -= extLen
	}

	if h.Padding == 1 {
		pad := int(b[p.length-1])
		if remain <= 0 || remain <= pad {
			return base.NewErrRtpRtcpShortBuffer(pad+1, remain, base.ErrRtpPadding.Error())
		}
		h.PaddingLength = uint8(pad)
		remain -= pad
	}

	p.payloadBegin = pos
	p.payloadEnd = pos + remain
	return nil
}

// Payload 不包含rtp头、扩展头以及尾部的padding
func (p *RtpPacket) Payload() []byte {
	return p.buf[p.payloadBegin:p.payloadEnd]
}

// Raw 收到的完整rtp包
func (p *RtpPacket) Raw() []byte {
	return p.buf[:p.length]
}

func (p *RtpPacket) Length() int {
	return p.length
}

func (p *RtpPacket) reset() {
	csrc := p.Header.Csrc[:0]
	p.Header = RtpHeader{Csrc: csrc}
	p.ExtTimestamp = 0
	p.TimeReceived = time.Time{}
	p.IsFirstPacket = false
	p.length = 0
	p.payloadBegin = 0
	p.payloadEnd = 0
	p.next = nil
}

// ---------------------------------------------------------------------------------------------------------------------

func MakeDefaultRtpHeader() RtpHeader {
	return RtpHeader{
		Version: DefaultRtpVersion,
	}
}

// PackRtp 将rtp头、扩展数据和payload打包成完整的rtp包
//
// Csrc、PaddingLength、ExtProfile 取自<h>，CsrcCount、Extension、Padding、ExtWords 由输入数据决定
// <ext>的长度需为4的整数倍，为nil时不携带扩展头
func PackRtp(h RtpHeader, ext []byte, payload []byte) []byte {
	csrcCount := len(h.Csrc) & 0xF
	size := RtpFixedHeaderLength + csrcCount*4 + len(payload) + int(h.PaddingLength)
	if ext != nil {
		size += 4 + len(ext)
	}
	out := make([]byte, size)

	var x, pad uint8
	if ext != nil {
		x = 1
	}
	if h.PaddingLength > 0 {
		pad = 1
	}
	out[0] = uint8(csrcCount) | (x << 4) | (pad << 5) | (h.Version << 6)
	out[1] = (h.PacketType & 0x7F) | (h.Mark << 7)
	bele.BePutUint16(out[2:], h.Seq)
	bele.BePutUint32(out[4:], h.Timestamp)
	bele.BePutUint32(out[8:], h.Ssrc)
	pos := RtpFixedHeaderLength
	for i := 0; i < csrcCount; i++ {
		bele.BePutUint32(out[pos:], h.Csrc[i])
		pos += 4
	}
	if ext != nil {
		bele.BePutUint16(out[pos:], h.ExtProfile)
		bele.BePutUint16(out[pos+2:], uint16(len(ext)/4))
		pos += 4
		pos += copy(out[pos:], ext)
	}
	pos += copy(out[pos:], payload)
	if h.PaddingLength > 0 {
		out[len(out)-1] = h.PaddingLength
	}
	return out
}

// PackExtTimestamp 生成私有扩展头(ExtProfileTimestamp)的扩展数据
func PackExtTimestamp(ts int64) []byte {
	out := make([]byte, 8)
	bele.BePutUint32(out, uint32(uint64(ts)>>32))
	bele.BePutUint32(out[4:], uint32(ts))
	return out
}
