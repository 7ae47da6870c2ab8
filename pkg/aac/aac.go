// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package aac

import (
	"fmt"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/naza/pkg/nazabits"
)

// MPEG4-GENERIC(rfc3640)的rtp包拆出来的是raw aac frame，写ts之前需要加上ADTS头
// 生成ADTS头需要的信息来自sdp fmtp中的config字段，即AudioSpecificConfig(asc)

const (
	AdtsHeaderLength = 7

	AscSamplingFrequencyIndex48000 = 3
	AscSamplingFrequencyIndex44100 = 4

	// aac_frame_length字段是13位，包含ADTS头
	maxAdtsFrameLength = 1<<13 - 1

	minAscLength = 2
)

// <ISO_IEC_14496-3.pdf>, <1.6.3.3 samplingFrequencyIndex>
var samplingFrequencies = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// AscContext asc中与ADTS有关的三个字段
//
// audio object type      [5b] 1=AAC MAIN 2=AAC LC
// samplingFrequencyIndex [4b]
// channelConfiguration   [4b]
type AscContext struct {
	AudioObjectType        uint8
	SamplingFrequencyIndex uint8
	ChannelConfiguration   uint8
}

// NewAscContext 解析并检查asc，只接受能够用ADTS头表达的配置
//
// @param asc: 函数调用结束后，内部不持有该内存块
func NewAscContext(asc []byte) (*AscContext, error) {
	if len(asc) < minAscLength {
		Log.Warnf("aac asc length invalid. len=%d", len(asc))
		return nil, fmt.Errorf("%w. asc len=%d", base.ErrAac, len(asc))
	}
	br := nazabits.NewBitReader(asc)
	var ascCtx AscContext
	ascCtx.AudioObjectType, _ = br.ReadBits8(5)
	ascCtx.SamplingFrequencyIndex, _ = br.ReadBits8(4)
	ascCtx.ChannelConfiguration, _ = br.ReadBits8(4)

	// ADTS的profile只有2位
	if ascCtx.AudioObjectType < 1 || ascCtx.AudioObjectType > 4 {
		return nil, fmt.Errorf("%w. audio object type not supported by adts, aot=%d", base.ErrAac, ascCtx.AudioObjectType)
	}
	if int(ascCtx.SamplingFrequencyIndex) >= len(samplingFrequencies) {
		return nil, fmt.Errorf("%w. index=%d", base.ErrSamplingFrequencyIndex, ascCtx.SamplingFrequencyIndex)
	}
	if ascCtx.ChannelConfiguration > 7 {
		return nil, fmt.Errorf("%w. channel configuration=%d", base.ErrAac, ascCtx.ChannelConfiguration)
	}
	return &ascCtx, nil
}

func (ascCtx *AscContext) SamplingFrequency() int {
	return samplingFrequencies[ascCtx.SamplingFrequencyIndex]
}

// AppendAdtsFrame 在out后追加 ADTS头 + raw aac frame
//
// 固定头和可变头一共56位，protection_absent=1，不带crc
func (ascCtx *AscContext) AppendAdtsFrame(out []byte, frame []byte) ([]byte, error) {
	length := len(frame) + AdtsHeaderLength
	if length > maxAdtsFrameLength {
		return out, fmt.Errorf("%w. adts frame too large, len=%d", base.ErrAac, len(frame))
	}
	profile := ascCtx.AudioObjectType - 1
	out = append(out,
		0xFF,
		0xF1, // syncword低4位, ID=0(MPEG-4), layer=0, protection_absent=1
		profile<<6|ascCtx.SamplingFrequencyIndex<<2|ascCtx.ChannelConfiguration>>2,
		ascCtx.ChannelConfiguration&0x3<<6|uint8(length>>11),
		uint8(length>>3),
		uint8(length&0x7)<<5|0x1F, // adts_buffer_fullness 0x7FF
		0xFC,                      // no_raw_data_blocks_in_frame=0
	)
	return append(out, frame...), nil
}

type AdtsHeader struct {
	AscCtx AscContext

	// FrameLength 包含ADTS头
	FrameLength uint16
}

// ParseAdtsHeader
//
// @param b: 函数调用结束后，内部不持有该内存块
func ParseAdtsHeader(b []byte) (h AdtsHeader, err error) {
	if len(b) < AdtsHeaderLength {
		return h, base.ErrShortBuffer
	}
	br := nazabits.NewBitReader(b)
	if syncword, _ := br.ReadBits16(12); syncword != 0xFFF {
		return h, fmt.Errorf("%w. adts syncword=0x%x", base.ErrAac, syncword)
	}
	_ = br.SkipBits(4)
	profile, _ := br.ReadBits8(2)
	h.AscCtx.AudioObjectType = profile + 1
	h.AscCtx.SamplingFrequencyIndex, _ = br.ReadBits8(4)
	_ = br.SkipBits(1)
	h.AscCtx.ChannelConfiguration, _ = br.ReadBits8(3)
	_ = br.SkipBits(4)
	h.FrameLength, _ = br.ReadBits16(13)
	return h, nil
}
