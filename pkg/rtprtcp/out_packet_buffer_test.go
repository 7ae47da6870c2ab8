// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp_test

import (
	"testing"
	"time"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/lalrtp/pkg/rtprtcp"
	"github.com/q191201771/naza/pkg/assert"
)

func TestOutPacketBuffer(t *testing.T) {
	// 容量向上取整到20的整数倍
	b := rtprtcp.NewOutPacketBuffer(10, 20, 50)
	assert.Equal(t, 60, b.TotalBufferSize())
	assert.Equal(t, 60, b.TotalBytesAvailable())

	assert.Equal(t, base.BufferStatusOk, b.EnqueueWord(0x01020304))
	assert.Equal(t, 4, b.CurPacketSize())
	assert.Equal(t, []byte{1, 2, 3, 4}, b.Packet())

	// 超过当前长度的insert会让包变长
	assert.Equal(t, base.BufferStatusOk, b.Insert([]byte{9, 9}, 6))
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 9, 9}, b.Packet())

	// 包内的insert是覆盖
	assert.Equal(t, base.BufferStatusOk, b.InsertWord(0xAABBCCDD, 0))
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0, 0, 9, 9}, b.Packet())

	assert.Equal(t, uint32(0xAABBCCDD), b.ExtractWord(0))
	assert.Equal(t, uint32(0x09090000), b.ExtractWord(6))
	to := make([]byte, 2)
	assert.Equal(t, 2, b.Extract(to, 2))
	assert.Equal(t, []byte{0xCC, 0xDD}, to)

	assert.Equal(t, false, b.IsPreferredSize())
	assert.Equal(t, base.BufferStatusOk, b.Skip(2))
	assert.Equal(t, true, b.IsPreferredSize())

	assert.Equal(t, false, b.WouldOverflow(10))
	assert.Equal(t, true, b.WouldOverflow(11))
	assert.Equal(t, 1, b.NumOverflowBytes(11))
	assert.Equal(t, false, b.IsTooBigForAPacket(20))
	assert.Equal(t, true, b.IsTooBigForAPacket(21))

	// 写不下的部分被截断
	assert.Equal(t, base.BufferStatusTruncated, b.Enqueue(make([]byte, 100)))
	assert.Equal(t, 60, b.CurPacketSize())
	assert.Equal(t, 0, b.TotalBytesAvailable())
	assert.Equal(t, base.BufferStatusTruncated, b.EnqueueWord(1))
	assert.Equal(t, base.BufferStatusTruncated, b.Skip(1))
	assert.Equal(t, base.BufferStatusTruncated, b.Insert([]byte{1, 2}, 59))
	assert.Equal(t, base.BufferStatusTruncated, b.Insert([]byte{1}, 61))
	assert.Equal(t, 0, b.Extract(to, 61))

	b.ResetOffset()
	assert.Equal(t, 0, b.CurPacketSize())
	assert.Equal(t, 60, b.TotalBytesAvailable())
}

func TestOutPacketBufferOverflow(t *testing.T) {
	b := rtprtcp.NewOutPacketBuffer(0, 10, 100)

	data := make([]byte, 15)
	for i := range data {
		data[i] = byte(i)
	}
	b.Enqueue(data)
	assert.Equal(t, true, b.WouldOverflow(0))
	assert.Equal(t, 5, b.NumOverflowBytes(0))

	pt := time.Unix(1600000000, 0)
	b.SetOverflowData(10, 5, pt, 40000)
	assert.Equal(t, true, b.HaveOverflowData())
	assert.Equal(t, 5, b.OverflowDataSize())
	assert.Equal(t, true, pt.Equal(b.OverflowPresentationTime()))
	assert.Equal(t, uint32(40000), b.OverflowDurationUs())

	// 前10字节作为一个包发送出去
	assert.Equal(t, data[:10], b.Packet()[:10])
	b.AdjustPacketStart(10)
	b.ResetOffset()

	// 溢出的数据放到新包的开头
	assert.Equal(t, base.BufferStatusOk, b.UseOverflowData())
	assert.Equal(t, false, b.HaveOverflowData())
	b.Skip(5)
	assert.Equal(t, data[10:], b.Packet())

	b.ResetPacketStart()
	b.ResetOffset()
	assert.Equal(t, 100, b.TotalBytesAvailable())
}
