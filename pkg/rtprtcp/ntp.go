// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

import "time"

// (70 * 365 + 17) * 24 * 60 * 60
const ntpOffset uint64 = 2208988800

// Ntp2UnixNano 将ntp时间戳转换为Unix时间戳，Unix时间戳单位是纳秒
func Ntp2UnixNano(v uint64) uint64 {
	msw := v >> 32
	lsw := v & 0xFFFFFFFF
	return (msw-ntpOffset)*1e9 + (lsw*1e9)>>32
}

// MswLsw2UnixNano 将ntp时间戳（高32位低32位分开的形式）转换为Unix时间戳
func MswLsw2UnixNano(msw, lsw uint64) uint64 {
	return Ntp2UnixNano(MswLsw2Ntp(msw, lsw))
}

// MswLsw2Time 同MswLsw2UnixNano，早于1970年的ntp时间(包括没有收到过sr时的0)返回零值
func MswLsw2Time(msw, lsw uint32) time.Time {
	if uint64(msw) < ntpOffset {
		return time.Time{}
	}
	nano := MswLsw2UnixNano(uint64(msw), uint64(lsw))
	return time.Unix(0, int64(nano))
}

// MswLsw2Ntp msw是ntp的高32位，lsw是ntp的低32位
func MswLsw2Ntp(msw, lsw uint64) uint64 {
	return (msw << 32) | lsw
}

// CompactNtp ntp时间戳中间的32位，用于rr中的LSR字段
func CompactNtp(msw, lsw uint32) uint32 {
	return ((msw & 0xFFFF) << 16) | (lsw >> 16)
}
