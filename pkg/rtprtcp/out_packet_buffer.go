// Copyright 2022, Chef.  All rights reserved.
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

// DefaultOutBufferMaxSize OutPacketBuffer 总容量的默认值，实际容量会向上取整到maxPacketSize的整数倍
const DefaultOutBufferMaxSize = 60000

// OutPacketBuffer 组装待发送包的缓存
//
//	buf: [ 已发送 | packetStart ... curOffset | 剩余可用 ]  limit
//
// 所有写入操作都不会越界，空间不够时能写多少写多少，并返回 base.BufferStatusTruncated
type OutPacketBuffer struct {
	buf   []byte
	limit int

	packetStart int
	curOffset   int

	preferred int
	max       int

	overflowDataOffset       int
	overflowDataSize         int
	overflowPresentationTime time.Time
	overflowDurationUs       uint32
}

// NewOutPacketBuffer
//
// @param maxBufferSize: 总容量，为0时使用 DefaultOutBufferMaxSize
func NewOutPacketBuffer(preferredPacketSize, maxPacketSize, maxBufferSize int) *OutPacketBuffer {
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultOutBufferMaxSize
	}
	if maxPacketSize <= 0 {
		maxPacketSize = maxBufferSize
	}
	numPackets := (maxBufferSize + maxPacketSize - 1) / maxPacketSize
	limit := numPackets * maxPacketSize
	return &OutPacketBuffer{
		buf:       make([]byte, limit),
		limit:     limit,
		preferred: preferredPacketSize,
		max:       maxPacketSize,
	}
}

func (o *OutPacketBuffer) TotalBytesAvailable() int {
	return o.limit - (o.packetStart + o.curOffset)
}

func (o *OutPacketBuffer) TotalBufferSize() int {
	return o.limit
}

func (o *OutPacketBuffer) CurPacketSize() int {
	return o.curOffset
}

// Packet 当前包的内容，调用方不应持有
func (o *OutPacketBuffer) Packet() []byte {
	return o.buf[o.packetStart : o.packetStart+o.curOffset]
}

// Enqueue 追加到当前包尾部
func (o *OutPacketBuffer) Enqueue(from []byte) base.BufferStatus {
	status := base.BufferStatusOk
	n := len(from)
	if avail := o.TotalBytesAvailable(); n > avail {
		n = avail
		status = base.BufferStatusTruncated
	}
	pos := o.packetStart + o.curOffset
	copy(o.buf[pos:pos+n], from[:n])
	o.curOffset += n
	return status
}

func (o *OutPacketBuffer) EnqueueWord(word uint32) base.BufferStatus {
	var b [4]byte
	bele.BePutUint32(b[:], word)
	return o.Enqueue(b[:])
}

// Insert 写入到当前包的指定位置，如果超过了当前包的长度，则当前包的长度随之增长
func (o *OutPacketBuffer) Insert(from []byte, toPosition int) base.BufferStatus {
	status := base.BufferStatusOk
	n := len(from)
	realPos := o.packetStart + toPosition
	if toPosition < 0 || realPos > o.limit {
		return base.BufferStatusTruncated
	}
	if realPos+n > o.limit {
		n = o.limit - realPos
		status = base.BufferStatusTruncated
	}
	copy(o.buf[realPos:realPos+n], from[:n])
	if toPosition+n > o.curOffset {
		o.curOffset = toPosition + n
	}
	return status
}

func (o *OutPacketBuffer) InsertWord(word uint32, toPosition int) base.BufferStatus {
	var b [4]byte
	bele.BePutUint32(b[:], word)
	return o.Insert(b[:], toPosition)
}

// Extract 从当前包的指定位置读取
//
// @return 实际读取的字节数
func (o *OutPacketBuffer) Extract(to []byte, fromPosition int) int {
	n := len(to)
	realPos := o.packetStart + fromPosition
	if fromPosition < 0 || realPos > o.limit {
		return 0
	}
	if realPos+n > o.limit {
		n = o.limit - realPos
	}
	return copy(to[:n], o.buf[realPos:realPos+n])
}

// ExtractWord 读取不足4字节时，缺少的部分为0
func (o *OutPacketBuffer) ExtractWord(fromPosition int) uint32 {
	var b [4]byte
	o.Extract(b[:], fromPosition)
	return bele.BeUint32(b[:])
}

func (o *OutPacketBuffer) Skip(n int) base.BufferStatus {
	status := base.BufferStatusOk
	if avail := o.TotalBytesAvailable(); n > avail {
		n = avail
		status = base.BufferStatusTruncated
	}
	o.curOffset += n
	return status
}

// IsPreferredSize 当前包是否已经达到建议的大小，调用方可以据此决定发送
func (o *OutPacketBuffer) IsPreferredSize() bool {
	return o.curOffset >= o.preferred
}

func (o *OutPacketBuffer) WouldOverflow(numBytes int) bool {
	return o.curOffset+numBytes > o.max
}

func (o *OutPacketBuffer) NumOverflowBytes(numBytes int) int {
	return o.curOffset + numBytes - o.max
}

func (o *OutPacketBuffer) IsTooBigForAPacket(numBytes int) bool {
	return numBytes > o.max
}

// SetOverflowData 记录超出单包上限的那部分数据，在下一个包开始时通过 UseOverflowData 放到包头
//
// @param overflowDataOffset: 相对于当前包起始位置的偏移
func (o *OutPacketBuffer) SetOverflowData(overflowDataOffset, overflowDataSize int, presentationTime time.Time, durationUs uint32) {
	o.overflowDataOffset = overflowDataOffset
	o.overflowDataSize = overflowDataSize
	o.overflowPresentationTime = presentationTime
	o.overflowDurationUs = durationUs
}

func (o *OutPacketBuffer) HaveOverflowData() bool {
	return o.overflowDataSize > 0
}

func (o *OutPacketBuffer) OverflowDataSize() int {
	return o.overflowDataSize
}

func (o *OutPacketBuffer) OverflowPresentationTime() time.Time {
	return o.overflowPresentationTime
}

func (o *OutPacketBuffer) OverflowDurationUs() uint32 {
	return o.overflowDurationUs
}

// UseOverflowData 把之前记录的溢出数据追加到当前包
func (o *OutPacketBuffer) UseOverflowData() base.BufferStatus {
	begin := o.packetStart + o.overflowDataOffset
	end := begin + o.overflowDataSize
	if begin < 0 || end > o.limit {
		o.ResetOverflowData()
		return base.BufferStatusTruncated
	}
	// 溢出数据本身已经写在了当前包之后，先拷贝出来，避免重叠
	data := make([]byte, o.overflowDataSize)
	copy(data, o.buf[begin:end])
	status := o.Enqueue(data)
	o.curOffset -= o.overflowDataSize
	if o.curOffset < 0 {
		o.curOffset = 0
	}
	o.ResetOverflowData()
	return status
}

// AdjustPacketStart 包起始位置后移，溢出数据的偏移随之前移
func (o *OutPacketBuffer) AdjustPacketStart(numBytes int) {
	o.packetStart += numBytes
	if o.packetStart > o.limit {
		o.packetStart = o.limit
	}
	if o.overflowDataOffset >= numBytes {
		o.overflowDataOffset -= numBytes
	} else {
		o.overflowDataOffset = 0
		o.overflowDataSize = 0
	}
}

// ResetPacketStart 包起始位置回到缓存开头
func (o *OutPacketBuffer) ResetPacketStart() {
	if o.overflowDataSize > 0 {
		o.overflowDataOffset += o.packetStart
	}
	o.packetStart = 0
}

func (o *OutPacketBuffer) ResetOffset() {
	o.curOffset = 0
}

func (o *OutPacketBuffer) ResetOverflowData() {
	o.overflowDataOffset = 0
	o.overflowDataSize = 0
}
