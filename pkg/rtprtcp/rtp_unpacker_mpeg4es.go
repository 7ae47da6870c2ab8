// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

// rfc6416 MP4V-ES
//
// 帧以 00 00 01 开头的start code开始，marker为1的包是帧的最后一个包
func (u *RtpUnpacker) feedMpeg4Es(pkt *RtpPacket) {
	b := pkt.Payload()

	if len(b) >= 4 && b[0] == 0 && b[1] == 0 && b[2] == 1 {
		u.beginFrame = true
	}

	if u.beginFrame {
		if !u.isStartFrame {
			u.isStartFrame = true
			if len(u.option.ExtraData) > 0 {
				u.fb.append(u.option.ExtraData)
			}
		}
		u.fb.append(b)
	}

	if pkt.Header.Mark == 1 {
		if u.beginFrame {
			u.flush(u.TimestampUs(pkt))
		}
		u.beginFrame = false
	}
}
