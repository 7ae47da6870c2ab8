// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtsp

import (
	"bufio"
	"fmt"
	"io"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
)

// rfc2326 10.12 Embedded (Interleaved) Binary Data
//
// '$' <1字节channel> <2字节大端长度> <payload>

const (
	Interleaved = '$'

	InterleavedHeaderLength = 4

	maxInterleavedPayloadSize = 0xFFFF
)

// IInterleavedPacketWriter rtp/rtcp over tcp时，发送数据的一方
type IInterleavedPacketWriter interface {
	WriteInterleavedPacket(packet []byte, channel int) error
}

// ReadInterleaved 读取一个interleaved包
//
// 如果第一个字节不是'$'，则把它放回去，并返回isInterleaved为false，由调用方按rtsp文本协议处理
//
// @return packet: 内存块为独立新申请
func ReadInterleaved(r *bufio.Reader) (isInterleaved bool, packet []byte, channel uint8, err error) {
	flag, err := r.ReadByte()
	if err != nil {
		return false, nil, 0, err
	}

	if flag != Interleaved {
		_ = r.UnreadByte()
		return false, nil, 0, nil
	}

	channel, err = r.ReadByte()
	if err != nil {
		return false, nil, 0, err
	}
	var lenBuf [2]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return false, nil, 0, err
	}
	packet = make([]byte, int(bele.BeUint16(lenBuf[:])))
	if _, err = io.ReadFull(r, packet); err != nil {
		return false, nil, 0, err
	}
	return true, packet, channel, nil
}

// PackInterleaved
//
// @return 内存块为独立新申请
func PackInterleaved(channel int, payload []byte) ([]byte, error) {
	if len(payload) > maxInterleavedPayloadSize {
		return nil, fmt.Errorf("%w. len=%d", base.ErrRtspInterleavedTooLarge, len(payload))
	}
	ret := make([]byte, InterleavedHeaderLength+len(payload))
	ret[0] = Interleaved
	ret[1] = uint8(channel)
	bele.BePutUint16(ret[2:], uint16(len(payload)))
	copy(ret[InterleavedHeaderLength:], payload)
	return ret, nil
}

// RtpChannel2Rtcp 按惯例，rtcp的channel是rtp的channel加1
func RtpChannel2Rtcp(rtpChannel int) int {
	return rtpChannel + 1
}
