// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

// rfc4184 4.1.1.  Payload Header
//
//  0                   1
//  0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |    MBZ    | FT|       NF      |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// FT:
// 0 - One or more complete frames
// 1 - Initial fragment of frame which includes at least the first 5/8 of the frame
// 2 - Initial fragment of frame, which does not include the first 5/8 of the frame
// 3 - Fragment of frame other than initial fragment

const ac3FrameTypeContinuation = 3

func (u *RtpUnpacker) feedAc3(pkt *RtpPacket) {
	b := pkt.Payload()
	if len(b) < 2 {
		u.malformed(pkt, "payload header")
		return
	}
	ft := b[0] & 0x3

	if ft != ac3FrameTypeContinuation {
		if u.fb.size() > 0 {
			Log.Warnf("[%s] ac3 frame incomplete, drop. size=%d, seq=%d", u.uniqueKey, u.fb.size(), pkt.Header.Seq)
			u.fb.reset()
		}
		u.beginFrame = true
	}

	// 没有收到过起始分片的后续分片，丢弃
	if u.beginFrame {
		u.fb.append(b[2:])
	}

	if pkt.Header.Mark == 1 || ft == 0 {
		if u.beginFrame {
			u.flush(u.TimestampUs(pkt))
		}
		u.beginFrame = false
	}
}
