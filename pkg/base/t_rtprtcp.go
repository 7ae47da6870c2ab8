// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

// rtpmap中的encoding name，大小写不敏感，比较前统一转成大写
const (
	CodecNameH264         = "H264"
	CodecNameH265         = "H265"
	CodecNameMpeg4Es      = "MP4V-ES"
	CodecNameMpeg4Generic = "MPEG4-GENERIC"
	CodecNameAc3          = "AC3"
	CodecNameJpeg         = "JPEG"
)

const (
	// MaxRtpPacketSize 单个rtp包的上限，大于该值的包直接丢弃
	MaxRtpPacketSize = 1024 * 1024

	// DefaultReorderThresholdUs 乱序队列等待丢失包的默认时长
	DefaultReorderThresholdUs = 100000

	// MaxFrameBufferSize 合帧缓存的上限，超过后缓存位置重置为0
	MaxFrameBufferSize = 4 * 1024 * 1024

	// RtcpForceSendDurationMs 收到rtcp时，距离上次发送rr超过该时长，则强制检查一次是否发送
	RtcpForceSendDurationMs = 2000

	DefaultVideoClockRate = 90000
)

type FrameType uint8

const (
	FrameTypeOther FrameType = iota
	FrameTypeVideo
	FrameTypeAudio
)

func (t FrameType) ReadableString() string {
	switch t {
	case FrameTypeVideo:
		return "video"
	case FrameTypeAudio:
		return "audio"
	}
	return "other"
}

// Frame 合帧后回调给上层的完整帧(access unit)
type Frame struct {
	Type FrameType

	// TimestampUs 单位微秒
	// 如果rtp包携带了私有扩展头(profile 0x8110)的时间戳，则直接使用，否则由rtp时间戳和clock rate换算得到
	TimestampUs int64

	// Payload 回调结束后，内部会复用这块内存，上层如需持有，应自行拷贝
	Payload []byte

	// Truncated 合帧过程中缓存发生过溢出
	Truncated bool
}

// BufferStatus 写入缓存的结果
//
// 缓存空间不够时，采取尽力而为的策略：能写多少写多少，并返回BufferStatusTruncated，而不是返回错误
type BufferStatus uint8

const (
	BufferStatusOk BufferStatus = iota
	BufferStatusTruncated
)

func (s BufferStatus) ReadableString() string {
	if s == BufferStatusTruncated {
		return "truncated"
	}
	return "ok"
}
