// Copyright 2020, Chef.  All rights reserved.
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
)

// 以下函数把rtcp包写入OutPacketBuffer，任意一步写不下时返回 base.BufferStatusTruncated

// packRr 写入rr，每个stats对应一个report block
//
// 先写占位的头，包达到建议大小或者block数到达 RtcpMaxReportCount 时停止追加，最后回填头中的rc和长度
//
// @return numBlocks: 实际写入的report block个数
func packRr(out *OutPacketBuffer, senderSsrc uint32, stats []*ReceptionStats, now time.Time) (status base.BufferStatus, numBlocks int) {
	headerPos := out.CurPacketSize()
	status = out.EnqueueWord(0)
	status = mergeStatus(status, out.EnqueueWord(senderSsrc))

	for _, s := range stats {
		if numBlocks == RtcpMaxReportCount || out.IsPreferredSize() {
			break
		}
		if out.WouldOverflow(RtcpReportBlockLength) {
			status = base.BufferStatusTruncated
			break
		}
		status = mergeStatus(status, packReportBlock(out, s, now))
		numBlocks++
	}

	rc := uint32(numBlocks)
	word := uint32(0x80000000) | rc<<24 | uint32(RtcpPacketTypeRr)<<16 | (1 + 6*rc)
	status = mergeStatus(status, out.InsertWord(word, headerPos))
	return
}

func packReportBlock(out *OutPacketBuffer, s *ReceptionStats, now time.Time) base.BufferStatus {
	msw, lsw := s.LastReceivedSrNtp()
	lsr := CompactNtp(msw, lsw)

	// 单位是1/65536秒
	var dlsr uint32
	if lsr != 0 {
		since := now.Sub(s.LastReceivedSrTime())
		if since < 0 {
			since = 0
		}
		sec := uint32(since / time.Second)
		usec := uint32((since % time.Second) / time.Microsecond)
		dlsr = (sec << 16) | ((((usec << 11) + 15625) / 31250) & 0xFFFF)
	}

	status := base.BufferStatusOk
	status = mergeStatus(status, out.EnqueueWord(s.Ssrc()))
	status = mergeStatus(status, out.EnqueueWord(uint32(s.LossFraction())<<24|s.PackedTotNumPacketsLost()))
	status = mergeStatus(status, out.EnqueueWord(s.HighestExtSeqNumReceived()))
	status = mergeStatus(status, out.EnqueueWord(s.Jitter()))
	status = mergeStatus(status, out.EnqueueWord(lsr))
	status = mergeStatus(status, out.EnqueueWord(dlsr))
	return status
}

// packSdes 只包含cname一项，尾部补0对齐到4字节
func packSdes(out *OutPacketBuffer, ssrc uint32, cname []byte) base.BufferStatus {
	if len(cname) > 255 {
		cname = cname[:255]
	}
	// ssrc + tag + length + cname + end
	numBytes := 4 + 2 + len(cname) + 1
	words := uint32((numBytes + 3) / 4)

	status := base.BufferStatusOk
	word := uint32(0x81000000) | uint32(RtcpPacketTypeSdes)<<16 | words
	status = mergeStatus(status, out.EnqueueWord(word))
	status = mergeStatus(status, out.EnqueueWord(ssrc))
	status = mergeStatus(status, out.Enqueue([]byte{RtcpSdesItemCname, uint8(len(cname))}))
	status = mergeStatus(status, out.Enqueue(cname))

	// end item，以及对齐
	var zero [4]byte
	pad := 4 - out.CurPacketSize()%4
	status = mergeStatus(status, out.Enqueue(zero[:pad]))
	return status
}

func packBye(out *OutPacketBuffer, ssrc uint32) base.BufferStatus {
	status := base.BufferStatusOk
	word := uint32(0x81000000) | uint32(RtcpPacketTypeBye)<<16 | 1
	status = mergeStatus(status, out.EnqueueWord(word))
	status = mergeStatus(status, out.EnqueueWord(ssrc))
	return status
}

func mergeStatus(a, b base.BufferStatus) base.BufferStatus {
	if a == base.BufferStatusTruncated || b == base.BufferStatusTruncated {
		return base.BufferStatusTruncated
	}
	return base.BufferStatusOk
}
