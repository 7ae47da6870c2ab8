// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

import (
	"strings"

	"github.com/q191201771/lalrtp/pkg/base"
)

// 传入按序号排好序的RTP包，合成帧数据，并回调返回
// 一路音频或一路视频各对应一个对象
//
// 支持的格式是固定的，创建时根据codec name选定，不支持业务方扩展

type RtpUnpackerOption struct {
	// CodecName rtpmap中的encoding name，大小写不敏感，不认识的格式按Generic处理
	CodecName string

	// ClockRate 为0时按 base.DefaultVideoClockRate 处理
	ClockRate uint32

	// MediaType sdp中m=行的媒体类型，"video"或"audio"，用于确定Generic格式的帧类型
	MediaType string

	// ExtraData 带外的编解码配置，只在第一帧前插入一次
	//
	// H264: annexb格式的sps、pps
	// H265: annexb格式的vps、sps、pps
	// MP4V-ES: fmtp中config字段的二进制
	ExtraData []byte

	// MPEG4-GENERIC的au header配置，SizeLength必须大于0
	SizeLength       int
	IndexLength      int
	IndexDeltaLength int

	// MaxPendingParamSets H264只有sps、pps还没有遇到帧数据时，缓存的参数集个数上限，超过后丢弃
	MaxPendingParamSets int

	// MaxFrameBufferSize 为0时使用 base.MaxFrameBufferSize
	MaxFrameBufferSize int
}

const defaultMaxPendingParamSets = 8

// OnFrame 回调结束后，frame.Payload的内存会被复用
type OnFrame func(frame base.Frame)

type unpackerKind uint8

const (
	unpackerKindGeneric unpackerKind = iota
	unpackerKindH264
	unpackerKindH265
	unpackerKindMpeg4Es
	unpackerKindMpeg4Generic
	unpackerKindAc3
	unpackerKindJpeg
)

func (k unpackerKind) String() string {
	switch k {
	case unpackerKindH264:
		return base.CodecNameH264
	case unpackerKindH265:
		return base.CodecNameH265
	case unpackerKindMpeg4Es:
		return base.CodecNameMpeg4Es
	case unpackerKindMpeg4Generic:
		return base.CodecNameMpeg4Generic
	case unpackerKindAc3:
		return base.CodecNameAc3
	case unpackerKindJpeg:
		return base.CodecNameJpeg
	}
	return "GENERIC"
}

type RtpUnpackerStat struct {
	Frames           uint64
	TruncatedFrames  uint64
	MalformedPackets uint64
	DroppedParamSets uint64
}

type RtpUnpacker struct {
	uniqueKey string
	kind      unpackerKind
	option    RtpUnpackerOption
	frameType base.FrameType
	onFrame   OnFrame

	fb *frameBuffer

	// 带外的extra data是否已经处理过(插入，或者因为带内已经有参数集而不再需要)
	isStartFrame bool

	// h264/h265 是否收到过带内的参数集
	seenInbandParamSets bool
	pendingParamSets    int
	pendingParamBytes   int

	// mpeg4-es, ac3 是否处于一帧中
	beginFrame bool

	// generic 上一个包的时间戳
	hasLastTimestamp bool
	lastTimestamp    uint32
	lastTimestampUs  int64

	stat RtpUnpackerStat
}

// NewRtpUnpacker
//
// 配置错误(比如MPEG4-GENERIC缺少sizelength)时返回错误
func NewRtpUnpacker(option RtpUnpackerOption, onFrame OnFrame) (*RtpUnpacker, error) {
	if option.ClockRate == 0 {
		option.ClockRate = base.DefaultVideoClockRate
	}
	if option.MaxPendingParamSets <= 0 {
		option.MaxPendingParamSets = defaultMaxPendingParamSets
	}

	u := &RtpUnpacker{
		uniqueKey: base.GenUkRtpUnpacker(),
		option:    option,
		onFrame:   onFrame,
		fb:        newFrameBuffer(option.MaxFrameBufferSize),
	}

	switch strings.ToUpper(option.CodecName) {
	case base.CodecNameH264:
		u.kind = unpackerKindH264
		u.frameType = base.FrameTypeVideo
	case base.CodecNameH265:
		u.kind = unpackerKindH265
		u.frameType = base.FrameTypeVideo
	case base.CodecNameMpeg4Es:
		u.kind = unpackerKindMpeg4Es
		u.frameType = base.FrameTypeVideo
	case base.CodecNameMpeg4Generic:
		if option.SizeLength <= 0 || option.SizeLength > 32 {
			return nil, base.NewErrMissingFmtp(option.CodecName, "sizelength")
		}
		if option.IndexLength < 0 || option.IndexLength > 32 || option.IndexDeltaLength < 0 || option.IndexDeltaLength > 32 {
			return nil, base.NewErrMissingFmtp(option.CodecName, "indexlength")
		}
		u.kind = unpackerKindMpeg4Generic
		u.frameType = base.FrameTypeAudio
	case base.CodecNameAc3:
		u.kind = unpackerKindAc3
		u.frameType = base.FrameTypeAudio
	case base.CodecNameJpeg:
		u.kind = unpackerKindJpeg
		u.frameType = base.FrameTypeVideo
	case "":
		return nil, base.NewErrUnknownCodec(option.CodecName)
	default:
		u.kind = unpackerKindGeneric
		u.frameType = frameTypeOfMedia(option.MediaType)
	}

	Log.Infof("[%s] lifecycle new rtp unpacker. codec=%s, kind=%s, clock=%d, extra=%d",
		u.uniqueKey, option.CodecName, u.kind, option.ClockRate, len(option.ExtraData))
	return u, nil
}

func (u *RtpUnpacker) UniqueKey() string {
	return u.uniqueKey
}

func (u *RtpUnpacker) FrameType() base.FrameType {
	return u.frameType
}

func (u *RtpUnpacker) Stat() RtpUnpackerStat {
	return u.stat
}

// Feed 输入按序的rtp包，可能回调0个或多个帧
//
// 函数调用结束后，不持有<pkt>
func (u *RtpUnpacker) Feed(pkt *RtpPacket) {
	switch u.kind {
	case unpackerKindH264:
		u.feedH264(pkt)
	case unpackerKindH265:
		u.feedH265(pkt)
	case unpackerKindMpeg4Es:
		u.feedMpeg4Es(pkt)
	case unpackerKindMpeg4Generic:
		u.feedMpeg4Generic(pkt)
	case unpackerKindAc3:
		u.feedAc3(pkt)
	default:
		u.feedGeneric(pkt)
	}
}

// Reset 丢弃合帧缓存中未完成的数据，下一帧重新插入extra data
func (u *RtpUnpacker) Reset() {
	u.fb.reset()
	u.isStartFrame = false
	u.seenInbandParamSets = false
	u.pendingParamSets = 0
	u.pendingParamBytes = 0
	u.beginFrame = false
	u.hasLastTimestamp = false
}

// TimestampUs 帧的时间戳，优先使用私有扩展头中的时间戳
func (u *RtpUnpacker) TimestampUs(pkt *RtpPacket) int64 {
	if pkt.ExtTimestamp != 0 {
		return pkt.ExtTimestamp
	}
	return int64(pkt.Header.Timestamp) * 1000000 / int64(u.option.ClockRate)
}

func (u *RtpUnpacker) flush(timestampUs int64) {
	if u.fb.size() == 0 {
		u.fb.reset()
		return
	}
	frame := base.Frame{
		Type:        u.frameType,
		TimestampUs: timestampUs,
		Payload:     u.fb.bytes(),
		Truncated:   u.fb.truncated,
	}
	u.stat.Frames++
	if frame.Truncated {
		u.stat.TruncatedFrames++
	}
	if u.onFrame != nil {
		u.onFrame(frame)
	}
	u.fb.reset()
	u.pendingParamSets = 0
	u.pendingParamBytes = 0
}

func (u *RtpUnpacker) malformed(pkt *RtpPacket, reason string) {
	u.stat.MalformedPackets++
	Log.Warnf("[%s] malformed rtp payload, abandon rest. codec=%s, seq=%d, reason=%s",
		u.uniqueKey, u.kind, pkt.Header.Seq, reason)
}

func frameTypeOfMedia(mediaType string) base.FrameType {
	switch strings.ToLower(mediaType) {
	case "video":
		return base.FrameTypeVideo
	case "audio":
		return base.FrameTypeAudio
	}
	return base.FrameTypeOther
}
