// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package sdp

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/lalrtp/pkg/h2645"
	"github.com/q191201771/lalrtp/pkg/rtprtcp"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// rfc4566
//
// sdp的词法解析交给pion/sdp，这里只负责把每个m=段转换成rtp接收端需要的配置

// MediaConfig 一个m=段的rtp接收配置
type MediaConfig struct {
	Media string // "video", "audio" ...
	Port  int
	Proto string

	PayloadType  uint8
	EncodingName string // 统一转成大写
	ClockRate    uint32
	Channels     int

	Control string
	Fmtp    *AFmtPBase // 没有a=fmtp时为nil

	// ExtraData 创建RtpUnpacker时使用的带外配置，格式见 rtprtcp.RtpUnpackerOption
	ExtraData []byte

	// Asc MPEG4-GENERIC的AudioSpecificConfig，录制成ts时生成adts头
	Asc []byte

	SizeLength       int
	IndexLength      int
	IndexDeltaLength int
}

func (mc *MediaConfig) IsVideo() bool {
	return mc.Media == "video"
}

func (mc *MediaConfig) IsAudio() bool {
	return mc.Media == "audio"
}

// UnpackerOption 转换成创建合帧器的参数
func (mc *MediaConfig) UnpackerOption() rtprtcp.RtpUnpackerOption {
	return rtprtcp.RtpUnpackerOption{
		CodecName:        mc.EncodingName,
		ClockRate:        mc.ClockRate,
		MediaType:        mc.Media,
		ExtraData:        mc.ExtraData,
		SizeLength:       mc.SizeLength,
		IndexLength:      mc.IndexLength,
		IndexDeltaLength: mc.IndexDeltaLength,
	}
}

// ParseSdp2MediaConfigs 例子见单元测试
//
// 只取每个m=段的第一个payload type
func ParseSdp2MediaConfigs(raw []byte) ([]MediaConfig, error) {
	sd, err := unmarshalSdp(string(raw))
	if err != nil {
		return nil, err
	}

	var ret []MediaConfig
	for _, md := range sd.MediaDescriptions {
		mc, err := parseMediaDescription(md)
		if err != nil {
			return nil, err
		}
		ret = append(ret, mc)
	}
	return ret, nil
}

// ---------------------------------------------------------------------------------------------------------------------

func unmarshalSdp(s string) (*sdp.SessionDescription, error) {
	s = normalizeLineEnding(s)

	var sd sdp.SessionDescription
	err := sd.UnmarshalString(s)
	if err == nil {
		return &sd, nil
	}

	// 再尝试抢救一下，见TestSdpRescue
	Log.Warnf("parse sdp failed, try to fix it. err=%+v", err)
	fixed, mediaNames := fixSdp(s)
	var sd2 sdp.SessionDescription
	if err2 := sd2.UnmarshalString(fixed); err2 != nil {
		return nil, nazaerrors.Wrap(err)
	}
	for i, md := range sd2.MediaDescriptions {
		if i < len(mediaNames) {
			md.MediaName.Media = mediaNames[i]
		}
	}
	return &sd2, nil
}

// normalizeLineEnding 统一成\r\n，并保证最后一行也有换行
func normalizeLineEnding(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimRight(s, "\n")
	return strings.ReplaceAll(s, "\n", "\r\n") + "\r\n"
}

// fixSdp 修复一些常见的不规范写法
//
// 1. 被拆成多行的a=fmtp，后续行不是`x=`开头
// 2. 缺少t=行
// 3. m=行的媒体类型不在rfc4566的列表中(比如onvif的元数据)，先替换成application，解析后再恢复
//
// @return mediaNames: 每个m=行原始的媒体类型
func fixSdp(s string) (fixed string, mediaNames []string) {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\r\n")

	var newlines []string
	hasTiming := false
	for _, line := range lines {
		if strings.HasPrefix(line, "t=") {
			hasTiming = true
		}
		if strings.HasPrefix(line, "m=") {
			items := strings.SplitN(strings.TrimPrefix(line, "m="), " ", 2)
			mediaNames = append(mediaNames, items[0])
			if !isRegisteredMedia(items[0]) && len(items) == 2 {
				line = "m=application " + items[1]
			}
		}
		if len(newlines) > 0 && !isSdpLine(line) {
			last := len(newlines) - 1
			if strings.HasPrefix(newlines[last], "a=fmtp") {
				newlines[last] += line
				continue
			}
		}
		newlines = append(newlines, line)
	}

	if !hasTiming {
		for i, line := range newlines {
			if strings.HasPrefix(line, "s=") {
				newlines = append(newlines[:i+1], append([]string{"t=0 0"}, newlines[i+1:]...)...)
				break
			}
		}
	}
	return strings.Join(newlines, "\r\n") + "\r\n", mediaNames
}

func isRegisteredMedia(media string) bool {
	switch media {
	case "audio", "video", "text", "application", "message":
		return true
	}
	return false
}

func isSdpLine(line string) bool {
	return len(line) >= 2 && line[1] == '=' && line[0] >= 'a' && line[0] <= 'z'
}

func parseMediaDescription(md *sdp.MediaDescription) (mc MediaConfig, err error) {
	mc.Media = md.MediaName.Media
	mc.Port = md.MediaName.Port.Value
	mc.Proto = strings.Join(md.MediaName.Protos, "/")

	if len(md.MediaName.Formats) == 0 {
		return mc, nazaerrors.Wrap(base.ErrSdp)
	}
	pt, err := strconv.ParseUint(md.MediaName.Formats[0], 10, 8)
	if err != nil {
		return mc, nazaerrors.Wrap(base.ErrSdp)
	}
	mc.PayloadType = uint8(pt)
	mc.Channels = 1

	hasRtpMap := false
	for _, attr := range md.Attributes {
		switch attr.Key {
		case "rtpmap":
			if !strings.HasPrefix(attr.Value, md.MediaName.Formats[0]+" ") {
				continue
			}
			if err = parseRtpMapValue(attr.Value, &mc); err != nil {
				return
			}
			hasRtpMap = true
		case "fmtp":
			f, err := ParseFmtpValue(attr.Value)
			if err != nil {
				return mc, err
			}
			if f.Format == int(mc.PayloadType) {
				mc.Fmtp = &f
			}
		case "control":
			mc.Control = attr.Value
		}
	}

	if !hasRtpMap {
		if !lookupStaticPayloadType(&mc) {
			return mc, nazaerrors.Wrap(base.ErrSdpNoRtpMap)
		}
	}
	if mc.ClockRate == 0 {
		mc.ClockRate = guessClockRate(mc.Media, mc.EncodingName)
	}

	err = fillCodecConfig(&mc)
	return
}

// parseRtpMapValue a=rtpmap:<payload type> <encoding name>/<clock rate>[/<encoding parameters>]
func parseRtpMapValue(s string, mc *MediaConfig) error {
	items := strings.SplitN(strings.TrimSpace(s), " ", 2)
	if len(items) != 2 {
		return nazaerrors.Wrap(base.ErrSdp)
	}
	items = strings.SplitN(strings.TrimSpace(items[1]), "/", 3)
	mc.EncodingName = strings.ToUpper(items[0])
	if len(items) > 1 {
		clockRate, err := strconv.ParseUint(items[1], 10, 32)
		if err != nil {
			return nazaerrors.Wrap(base.ErrSdp)
		}
		mc.ClockRate = uint32(clockRate)
	}
	if len(items) > 2 {
		if n, err := strconv.Atoi(items[2]); err == nil && n > 0 {
			mc.Channels = n
		}
	}
	return nil
}

// fillCodecConfig 根据编码类型，从fmtp中取出合帧需要的配置
func fillCodecConfig(mc *MediaConfig) (err error) {
	switch mc.EncodingName {
	case base.CodecNameH264:
		if _, ok := mc.Fmtp.Get("sprop-parameter-sets"); !ok {
			return nil
		}
		nals, err := ParseSpsPps(mc.Fmtp)
		if err != nil {
			return err
		}
		mc.ExtraData = h2645.JoinNaluAnnexb(nals...)
	case base.CodecNameH265:
		if _, ok := mc.Fmtp.Get("sprop-vps"); !ok {
			return nil
		}
		vps, sps, pps, err := ParseVpsSpsPps(mc.Fmtp)
		if err != nil {
			return err
		}
		mc.ExtraData = h2645.JoinNaluAnnexb(vps, sps, pps)
	case base.CodecNameMpeg4Es:
		if _, ok := mc.Fmtp.Get("config"); !ok {
			return nil
		}
		mc.ExtraData, err = ParseHexConfig(mc.Fmtp)
	case base.CodecNameMpeg4Generic:
		if mc.SizeLength, mc.IndexLength, mc.IndexDeltaLength, err = ParseAuHeaderLength(mc.Fmtp); err != nil {
			return base.NewErrMissingFmtp(mc.EncodingName, "sizelength")
		}
		if _, ok := mc.Fmtp.Get("config"); ok {
			mc.Asc, err = ParseHexConfig(mc.Fmtp)
		}
	}
	return
}

// rfc3551 静态payload type
var staticPayloadTypes = map[uint8]struct {
	name      string
	clockRate uint32
	channels  int
}{
	0:  {"PCMU", 8000, 1},
	2:  {"G726-32", 8000, 1},
	3:  {"GSM", 8000, 1},
	4:  {"G723", 8000, 1},
	5:  {"DVI4", 8000, 1},
	6:  {"DVI4", 16000, 1},
	7:  {"LPC", 8000, 1},
	8:  {"PCMA", 8000, 1},
	9:  {"G722", 8000, 1},
	10: {"L16", 44100, 2},
	11: {"L16", 44100, 1},
	12: {"QCELP", 8000, 1},
	14: {"MPA", 90000, 1},
	15: {"G728", 8000, 1},
	16: {"DVI4", 11025, 1},
	17: {"DVI4", 22050, 1},
	18: {"G729", 8000, 1},
	25: {"CELB", 90000, 1},
	26: {"JPEG", 90000, 1},
	28: {"NV", 90000, 1},
	31: {"H261", 90000, 1},
	32: {"MPV", 90000, 1},
	33: {"MP2T", 90000, 1},
	34: {"H263", 90000, 1},
}

func lookupStaticPayloadType(mc *MediaConfig) bool {
	item, ok := staticPayloadTypes[mc.PayloadType]
	if !ok {
		return false
	}
	mc.EncodingName = item.name
	mc.ClockRate = item.clockRate
	mc.Channels = item.channels
	return true
}

// guessClockRate rtpmap中没有写频率时的猜测值
func guessClockRate(media string, encodingName string) uint32 {
	switch encodingName {
	case "L16":
		return 44100
	case "MPA", "MPA-ROBUST", "X-MP3-DRAFT-00":
		return 90000
	}
	if media == "video" {
		return 90000
	}
	return 8000
}
