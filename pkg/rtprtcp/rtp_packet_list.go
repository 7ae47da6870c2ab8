// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

import "time"

// ReorderingQueue rtp包的有序链表，前面的seq小于后面的seq
//
// 为什么不用红黑树等查找性能更高的有序kv结构？
// 插入时，99.99%的seq号是当前最大号附近的，先和尾部比较，大部分情况直接追加到尾部就可以了。
//
// 只有链表头部的seq等于期望的下一个seq时，才会被取出，
// 如果头部的包等待超过了阈值，则放弃中间丢失的包，直接跳到头部的seq。
//
// 非协程安全，由所属的源在同一个协程中驱动
type ReorderingQueue struct {
	thresholdUs int64

	head *RtpPacket
	tail *RtpPacket
	size int

	haveSeenFirstPacket bool
	nextExpectedSeq     uint16

	// 放弃等待而跳过的包数
	numSkipped int

	// 长期持有一个包，大部分情况下一个包进一个包出，不需要额外分配
	savedPacket     *RtpPacket
	savedPacketFree bool
}

func NewReorderingQueue(thresholdUs int64) *ReorderingQueue {
	return &ReorderingQueue{
		thresholdUs:     thresholdUs,
		savedPacket:     NewRtpPacket(),
		savedPacketFree: true,
	}
}

// SetThresholdUs 为0时表示不等待，头部的包立即取出
func (q *ReorderingQueue) SetThresholdUs(us int64) {
	q.thresholdUs = us
}

func (q *ReorderingQueue) Size() int {
	return q.size
}

func (q *ReorderingQueue) NextExpectedSeq() uint16 {
	return q.nextExpectedSeq
}

// NumSkipped 因等待超时而放弃的包数
func (q *ReorderingQueue) NumSkipped() int {
	return q.numSkipped
}

// GetFreePacket 获取一个空闲的包用于解析
//
// 使用完后，如果没有成功Store进队列，需要调用FreePacket归还
func (q *ReorderingQueue) GetFreePacket() *RtpPacket {
	if q.savedPacketFree {
		q.savedPacketFree = false
		return q.savedPacket
	}
	return NewRtpPacket()
}

func (q *ReorderingQueue) FreePacket(pkt *RtpPacket) {
	if pkt == q.savedPacket {
		q.savedPacketFree = true
	}
	pkt.next = nil
}

// Store 插入有序链表，并去重
//
// @return 是否插入成功。返回false时(太晚到达或重复)，调用方需自行调用FreePacket
func (q *ReorderingQueue) Store(pkt *RtpPacket) bool {
	seq := pkt.Header.Seq

	if !q.haveSeenFirstPacket {
		q.nextExpectedSeq = seq
		pkt.IsFirstPacket = true
		q.haveSeenFirstPacket = true
	}

	// 太晚了，期望的seq已经跳过它了
	if SeqLessThan(seq, q.nextExpectedSeq) {
		return false
	}

	if q.tail == nil {
		pkt.next = nil
		q.head = pkt
		q.tail = pkt
		q.size = 1
		return true
	}

	if SeqLessThan(q.tail.Header.Seq, seq) {
		pkt.next = nil
		q.tail.next = pkt
		q.tail = pkt
		q.size++
		return true
	}

	if seq == q.tail.Header.Seq {
		return false
	}

	// 遍历查找插入位置
	var before *RtpPacket
	after := q.head
loop:
	for after != nil {
		switch CompareSeq(seq, after.Header.Seq) {
		case -1:
			break loop
		case 0:
			return false
		}
		before = after
		after = after.next
	}

	pkt.next = after
	if before == nil {
		q.head = pkt
	} else {
		before.next = pkt
	}
	q.size++
	return true
}

// PopReady 查看是否有可以取出的包
//
// 注意，返回的包依然在队列中，调用方处理完后需调用 Release
//
// @return lossPreceded: 该包之前是否可能有丢包
func (q *ReorderingQueue) PopReady(now time.Time) (pkt *RtpPacket, lossPreceded bool) {
	if q.head == nil {
		return nil, false
	}

	if q.head.Header.Seq == q.nextExpectedSeq {
		return q.head, q.head.IsFirstPacket
	}

	if q.thresholdUs == 0 || now.Sub(q.head.TimeReceived).Microseconds() > q.thresholdUs {
		// 等不到了，放弃中间的包
		q.numSkipped += SubSeq(q.head.Header.Seq, q.nextExpectedSeq)
		Log.Debugf("reorder give up waiting. expected=%d, head=%d, skipped=%d", q.nextExpectedSeq, q.head.Header.Seq, q.numSkipped)
		q.nextExpectedSeq = q.head.Header.Seq
		return q.head, true
	}

	return nil, false
}

// Release 释放头部的包，只能在PopReady返回包之后调用
func (q *ReorderingQueue) Release() {
	if q.head == nil {
		return
	}
	q.nextExpectedSeq++

	pkt := q.head
	q.head = pkt.next
	if q.head == nil {
		q.tail = nil
	}
	q.size--
	q.FreePacket(pkt)
}

// Reset 清空队列，回到初始状态
func (q *ReorderingQueue) Reset() {
	for q.head != nil {
		pkt := q.head
		q.head = pkt.next
		q.FreePacket(pkt)
	}
	q.tail = nil
	q.size = 0
	q.haveSeenFirstPacket = false
	q.nextExpectedSeq = 0
	q.numSkipped = 0
}
