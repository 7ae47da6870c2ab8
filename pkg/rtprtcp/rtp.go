// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

// h264的格式：
//
// rfc3984 5.2.  Common Structure of the RTP Payload Format
// Table 1.  Summary of NAL unit types and their payload structures
//
// Type   Packet    Type name                        Section
// ---------------------------------------------------------
// 0      undefined                                    -
// 1-23   NAL unit  Single NAL unit packet per H.264   5.6
// 24     STAP-A    Single-time aggregation packet     5.7.1
// 25     STAP-B    Single-time aggregation packet     5.7.1
// 26     MTAP16    Multi-time aggregation packet      5.7.2
// 27     MTAP24    Multi-time aggregation packet      5.7.2
// 28     FU-A      Fragmentation unit                 5.8
// 29     FU-B      Fragmentation unit                 5.8
// 30-31  undefined                                    -
//
// h265的格式：
//
// rfc7798
// 4.4.2.  Aggregation Packets (APs)
// 4.4.3.  Fragmentation Units

const (
	NaluTypeAvcIdr       = 5
	NaluTypeAvcSps       = 7
	NaluTypeAvcPps       = 8
	NaluTypeAvcSingleMax = 23
	NaluTypeAvcStapa     = 24 // one packet, multiple nals
	NaluTypeAvcFua       = 28

	NaluTypeHevcVps = 32
	NaluTypeHevcSps = 33
	NaluTypeHevcPps = 34
	NaluTypeHevcAp  = 48
	NaluTypeHevcFua = 49
)

// seqHalf 序号空间的一半，差值落在(0, seqHalf)内认为是"小于"
const seqHalf = 0x8000

// SeqLessThan a是否在b之前，内部处理序号翻转问题
//
// 把 b-a 看作16位有符号差值，落在 (0, 0x8000) 内时返回true
// 比如 SeqLessThan(65535, 0) 为true，SeqLessThan(0, 65535) 为false
func SeqLessThan(a, b uint16) bool {
	d := b - a
	return d != 0 && d < seqHalf
}

// CompareSeq 比较序号的值，内部处理序号翻转问题，见单元测试中的例子
//
// @return
//   - 0 a和b相等
//   - 1 a大于b
//   - -1 a小于b
func CompareSeq(a, b uint16) int {
	if a == b {
		return 0
	}
	if SeqLessThan(a, b) {
		return -1
	}
	return 1
}

// SubSeq a减b的值，内部处理序号翻转问题，如果a小于b，则返回负值，见单元测试中的例子
func SubSeq(a, b uint16) int {
	return int(int16(a - b))
}
