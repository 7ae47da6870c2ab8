// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

import (
	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/lalrtp/pkg/h2645"
	"github.com/q191201771/naza/pkg/bele"
)

// rfc6184 5.8.  Fragmentation Units (FUs)
//
// FU indicator:
// +---------------+
// |0|1|2|3|4|5|6|7|
// +-+-+-+-+-+-+-+-+
// |F|NRI|  Type   |
// +---------------+
//
// FU header:
// +---------------+
// |0|1|2|3|4|5|6|7|
// +-+-+-+-+-+-+-+-+
// |S|E|R|  Type   |
// +---------------+

// feedH264
//
// 输出annexb格式，每个nalu前带4字节start code
// idr以及其他普通nalu立即回调，sps、pps则和后面的帧合在一起回调
func (u *RtpUnpacker) feedH264(pkt *RtpPacket) {
	b := pkt.Payload()
	b = b[h2645.TrimStartCode(b):]
	if len(b) == 0 {
		u.malformed(pkt, "empty")
		return
	}
	tsUs := u.TimestampUs(pkt)

	naluType := h2645.ParseNaluType(true, b[0])
	complete := false

	switch naluType {
	case NaluTypeAvcFua:
		if len(b) < 2 {
			u.malformed(pkt, "fu-a header")
			return
		}
		startBit := b[1] & 0x80
		endBit := b[1] & 0x40
		realType := b[1] & 0x1F
		u.maybePutExtraData(true, realType)
		if startBit != 0 {
			// 用fu indicator的F和NRI，以及fu header中的type，还原nalu header，覆盖到fu header的位置
			b[1] = (b[0] & 0xE0) | realType
			b = b[1:]
			u.fb.putStartCode()
		} else {
			b = b[2:]
		}
		u.fb.append(b)
		complete = endBit != 0

	case NaluTypeAvcSps, NaluTypeAvcPps:
		u.appendParamSet(b)

	case NaluTypeAvcStapa:
		u.iterateAggregation(pkt, b[1:], true, tsUs)

	default:
		// NaluTypeAvcIdr 和其他单个nalu
		u.maybePutExtraData(true, naluType)
		u.fb.putStartCode()
		u.fb.append(b)
		complete = true
	}

	if complete {
		u.flush(tsUs)
	}
}

// maybePutExtraData 第一个非参数集的nalu之前，插入带外的参数集
//
// 如果之前已经收到过带内的参数集，则不再插入
func (u *RtpUnpacker) maybePutExtraData(isH264 bool, naluType uint8) {
	if u.isStartFrame || h2645.IsParamSet(isH264, naluType) {
		return
	}
	u.isStartFrame = true
	if u.seenInbandParamSets || len(u.option.ExtraData) == 0 {
		return
	}
	extra := u.option.ExtraData
	extra = extra[h2645.TrimStartCode(extra):]
	u.fb.putStartCode()
	u.fb.append(extra)
}

// appendParamSet h264的sps、pps先缓存，不单独回调
func (u *RtpUnpacker) appendParamSet(nal []byte) {
	u.seenInbandParamSets = true

	// 缓存中只有参数集并且数量已经达到上限，说明一直没有等到帧数据，丢弃
	if u.pendingParamSets >= u.option.MaxPendingParamSets && u.fb.size() == u.pendingParamBytes {
		Log.Warnf("[%s] too many pending param sets without frame, drop. num=%d, bytes=%d",
			u.uniqueKey, u.pendingParamSets, u.pendingParamBytes)
		u.stat.DroppedParamSets += uint64(u.pendingParamSets)
		u.fb.reset()
		u.pendingParamSets = 0
		u.pendingParamBytes = 0
	}

	isOnlyParamSets := u.fb.size() == u.pendingParamBytes
	status := mergeStatus(u.fb.putStartCode(), u.fb.append(nal))
	if status == base.BufferStatusTruncated {
		// 溢出后缓存从头开始写，里面只剩下当前这个参数集
		u.pendingParamSets = 1
		u.pendingParamBytes = u.fb.size()
		return
	}
	if isOnlyParamSets {
		u.pendingParamSets++
		u.pendingParamBytes = u.fb.size()
	}
}

// iterateAggregation STAP-A(h264)以及AP(h265)，每个nalu前有2字节的长度，每个nalu单独回调
func (u *RtpUnpacker) iterateAggregation(pkt *RtpPacket, b []byte, isH264 bool, tsUs int64) {
	for len(b) > 3 {
		size := int(bele.BeUint16(b))
		if size > len(b)-2 {
			u.malformed(pkt, "aggregation nalu size exceed")
			return
		}
		b = b[2:]
		if size == 0 {
			continue
		}
		nal := b[:size]
		b = b[size:]

		naluType := h2645.ParseNaluType(isH264, nal[0])
		if h2645.IsParamSet(isH264, naluType) {
			u.seenInbandParamSets = true
		}
		u.maybePutExtraData(isH264, naluType)
		u.fb.putStartCode()
		u.fb.append(nal)
		u.flush(tsUs)
	}
}
