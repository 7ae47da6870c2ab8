// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

import "github.com/q191201771/lalrtp/pkg/h2645"

// rfc7798 4.4.3.  Fragmentation Units
//
//  0                   1                   2                   3
//  0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |    PayloadHdr (Type=49)       |   FU header   | DONL (cond)   |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-|
//
// FU header:
// +---------------+
// |0|1|2|3|4|5|6|7|
// +-+-+-+-+-+-+-+-+
// |S|E|  FuType   |
// +---------------+

// feedH265 每个完整的nalu(包括参数集)单独回调
func (u *RtpUnpacker) feedH265(pkt *RtpPacket) {
	b := pkt.Payload()
	b = b[h2645.TrimStartCode(b):]
	if len(b) < 2 {
		u.malformed(pkt, "payload header")
		return
	}
	tsUs := u.TimestampUs(pkt)

	naluType := h2645.ParseNaluType(false, b[0])
	complete := false

	switch naluType {
	case NaluTypeHevcAp:
		u.iterateAggregation(pkt, b[2:], false, tsUs)

	case NaluTypeHevcFua:
		if len(b) < 3 {
			u.malformed(pkt, "fu header")
			return
		}
		startBit := b[2] & 0x80
		endBit := b[2] & 0x40
		fuType := b[2] & 0x3F
		u.maybePutExtraData(false, fuType)
		if startBit != 0 {
			// ffmpeg rtpdec_hevc.c
			// 取payload header第一个字节的头尾各1位，中间6位换成fu header中的type
			hdr1 := b[1]
			b[1] = (b[0] & 0x81) | (fuType << 1)
			b[2] = hdr1
			b = b[1:]
			u.fb.putStartCode()
		} else {
			b = b[3:]
		}
		u.fb.append(b)
		complete = endBit != 0

	default:
		if h2645.IsParamSet(false, naluType) {
			u.seenInbandParamSets = true
		}
		u.maybePutExtraData(false, naluType)
		u.fb.putStartCode()
		u.fb.append(b)
		complete = true
	}

	if complete {
		u.flush(tsUs)
	}
}
