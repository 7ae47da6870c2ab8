// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

// feedGeneric 不解析payload，整个payload拷贝进合帧缓存
//
// marker为1，或者时间戳发生变化时回调。有些发送端从不设置marker，时间戳变化时，先把之前缓存的数据作为一帧回调
// JPEG也按这种方式处理
func (u *RtpUnpacker) feedGeneric(pkt *RtpPacket) {
	tsUs := u.TimestampUs(pkt)

	if u.hasLastTimestamp && pkt.Header.Timestamp != u.lastTimestamp {
		u.flush(u.lastTimestampUs)
	}
	u.hasLastTimestamp = true
	u.lastTimestamp = pkt.Header.Timestamp
	u.lastTimestampUs = tsUs

	u.fb.append(pkt.Payload())

	if pkt.Header.Mark == 1 {
		u.flush(tsUs)
	}
}
