// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

import (
	"github.com/q191201771/naza/pkg/bele"
	"github.com/q191201771/naza/pkg/nazabits"
)

// rfc3640 3.2.  RTP Payload Structure
//
// +---------+-----------+-----------+---------------+
// | RTP     | AU Header | Auxiliary | Access Unit   |
// | Header  | Section   | Section   | Data Section  |
// +---------+-----------+-----------+---------------+
//
// AU-headers-length(16bit，单位是bit) | AU-header(1) | AU-header(2) | ... | AU-header(n) | padding bits
//
// 每个AU-header由 sizelength 位的size，和 indexlength(第一个) 或者 indexdeltalength(后续) 位的index组成

type auHeader struct {
	size  uint32
	index uint32
}

// feedMpeg4Generic 一个rtp包中可能包含多个AU，每个AU单独回调
func (u *RtpUnpacker) feedMpeg4Generic(pkt *RtpPacket) {
	b := pkt.Payload()
	tsUs := u.TimestampUs(pkt)

	sizeLength := u.option.SizeLength
	indexLength := u.option.IndexLength
	indexDeltaLength := u.option.IndexDeltaLength

	if len(b) < 2 {
		u.malformed(pkt, "au headers length")
		return
	}
	auHeadersLength := int(bele.BeUint16(b))
	auHeadersLengthBytes := (auHeadersLength + 7) / 8
	if len(b) < 2+auHeadersLengthBytes {
		u.malformed(pkt, "au headers section")
		return
	}

	numAuHeaders := 0
	bitsAvail := auHeadersLength - (sizeLength + indexLength)
	if bitsAvail >= 0 && sizeLength+indexDeltaLength > 0 {
		numAuHeaders = 1 + bitsAvail/(sizeLength+indexDeltaLength)
	}

	headers := make([]auHeader, 0, numAuHeaders)
	br := nazabits.NewBitReader(b[2 : 2+auHeadersLengthBytes])
	for i := 0; i < numAuHeaders; i++ {
		var h auHeader
		var err error
		h.size, err = br.ReadBits32(uint(sizeLength))
		if err != nil {
			u.malformed(pkt, "au header size")
			return
		}
		n := indexDeltaLength
		if i == 0 {
			n = indexLength
		}
		if n > 0 {
			if h.index, err = br.ReadBits32(uint(n)); err != nil {
				u.malformed(pkt, "au header index")
				return
			}
		}
		headers = append(headers, h)
	}

	data := b[2+auHeadersLengthBytes:]
	for _, h := range headers {
		if int(h.size) > len(data) {
			u.malformed(pkt, "au size exceed")
			return
		}
		u.fb.reset()
		u.fb.append(data[:h.size])
		data = data[h.size:]
		u.flush(tsUs)
	}
}
