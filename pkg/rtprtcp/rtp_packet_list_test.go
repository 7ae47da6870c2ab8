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

	"github.com/q191201771/lalrtp/pkg/rtprtcp"
	"github.com/q191201771/naza/pkg/assert"
)

func storeSeq(q *rtprtcp.ReorderingQueue, seq uint16, now time.Time) bool {
	h := rtprtcp.MakeDefaultRtpHeader()
	h.Seq = seq
	pkt := q.GetFreePacket()
	if err := pkt.Unpack(rtprtcp.PackRtp(h, nil, []byte{byte(seq)}), now); err != nil {
		panic(err)
	}
	if !q.Store(pkt) {
		q.FreePacket(pkt)
		return false
	}
	return true
}

func drain(q *rtprtcp.ReorderingQueue, now time.Time) (seqs []uint16, losses []bool) {
	for {
		pkt, loss := q.PopReady(now)
		if pkt == nil {
			return
		}
		seqs = append(seqs, pkt.Header.Seq)
		losses = append(losses, loss)
		q.Release()
	}
}

func TestReorderingQueue(t *testing.T) {
	now := time.Now()
	q := rtprtcp.NewReorderingQueue(100000)

	// 第一个包是5，期望从5开始，3和4太晚了
	assert.Equal(t, true, storeSeq(q, 5, now))
	assert.Equal(t, false, storeSeq(q, 3, now))
	assert.Equal(t, false, storeSeq(q, 4, now))
	assert.Equal(t, true, storeSeq(q, 6, now))
	seqs, losses := drain(q, now)
	assert.Equal(t, []uint16{5, 6}, seqs)
	assert.Equal(t, []bool{true, false}, losses)
	assert.Equal(t, uint16(7), q.NextExpectedSeq())
}

func TestReorderingQueueReorder(t *testing.T) {
	now := time.Now()
	q := rtprtcp.NewReorderingQueue(100000)

	assert.Equal(t, true, storeSeq(q, 2, now))
	seqs, _ := drain(q, now)
	assert.Equal(t, []uint16{2}, seqs)

	// 乱序到达 5 3 4 6，按 3 4 5 6 取出
	assert.Equal(t, true, storeSeq(q, 5, now))
	seqs, _ = drain(q, now)
	assert.Equal(t, 0, len(seqs))
	assert.Equal(t, true, storeSeq(q, 3, now))
	assert.Equal(t, true, storeSeq(q, 4, now))
	assert.Equal(t, true, storeSeq(q, 6, now))
	assert.Equal(t, 4, q.Size())

	// 重复的包不会插入
	assert.Equal(t, false, storeSeq(q, 4, now))
	assert.Equal(t, false, storeSeq(q, 6, now))
	assert.Equal(t, 4, q.Size())

	seqs, losses := drain(q, now)
	assert.Equal(t, []uint16{3, 4, 5, 6}, seqs)
	assert.Equal(t, []bool{false, false, false, false}, losses)
	assert.Equal(t, 0, q.Size())

	// 已经取出过的序号，再来就是太晚了
	assert.Equal(t, false, storeSeq(q, 5, now))
	assert.Equal(t, 0, q.Size())
}

func TestReorderingQueueWrap(t *testing.T) {
	now := time.Now()
	q := rtprtcp.NewReorderingQueue(100000)

	assert.Equal(t, true, storeSeq(q, 65534, now))
	assert.Equal(t, true, storeSeq(q, 0, now))
	assert.Equal(t, true, storeSeq(q, 65535, now))
	assert.Equal(t, true, storeSeq(q, 1, now))
	seqs, _ := drain(q, now)
	assert.Equal(t, []uint16{65534, 65535, 0, 1}, seqs)
}

func TestReorderingQueueThreshold(t *testing.T) {
	now := time.Now()
	q := rtprtcp.NewReorderingQueue(100000)

	assert.Equal(t, true, storeSeq(q, 10, now))
	drain(q, now)

	// 11丢了
	assert.Equal(t, true, storeSeq(q, 12, now))
	assert.Equal(t, true, storeSeq(q, 13, now))

	// 没有超过等待阈值
	seqs, _ := drain(q, now.Add(50*time.Millisecond))
	assert.Equal(t, 0, len(seqs))

	// 超过等待阈值，放弃11
	seqs, losses := drain(q, now.Add(101*time.Millisecond))
	assert.Equal(t, []uint16{12, 13}, seqs)
	assert.Equal(t, []bool{true, false}, losses)
	assert.Equal(t, 1, q.NumSkipped())

	// 11再来就晚了
	assert.Equal(t, false, storeSeq(q, 11, now))

	// 阈值为0时不等待
	q.SetThresholdUs(0)
	assert.Equal(t, true, storeSeq(q, 20, now))
	seqs, losses = drain(q, now)
	assert.Equal(t, []uint16{20}, seqs)
	assert.Equal(t, []bool{true}, losses)
	// 14到19
	assert.Equal(t, 7, q.NumSkipped())

	q.Reset()
	assert.Equal(t, 0, q.NumSkipped())
}

func TestReorderingQueueFreeList(t *testing.T) {
	q := rtprtcp.NewReorderingQueue(100000)
	a := q.GetFreePacket()
	b := q.GetFreePacket()
	assert.Equal(t, false, a == b)
	q.FreePacket(a)
	c := q.GetFreePacket()
	assert.Equal(t, true, a == c)

	now := time.Now()
	storeSeq(q, 100, now)
	storeSeq(q, 102, now)
	q.Reset()
	assert.Equal(t, 0, q.Size())

	// reset之后重新认第一个包
	assert.Equal(t, true, storeSeq(q, 1, now))
	seqs, losses := drain(q, now)
	assert.Equal(t, []uint16{1}, seqs)
	assert.Equal(t, []bool{true}, losses)
}
