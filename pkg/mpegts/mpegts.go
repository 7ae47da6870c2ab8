// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

import "github.com/q191201771/naza/pkg/nazalog"

var Log = nazalog.GetGlobalLogger()

// 每个轨道一个pid，从PidFirstTrack开始递增
const (
	PidFirstTrack uint16 = 0x100
)

// <iso13818-1.pdf>, <Table 2-18 Stream_id assignments>
const (
	StreamIdPrivateStream1 uint8 = 0xbd
	StreamIdAudio          uint8 = 0xc0
	StreamIdVideo          uint8 = 0xe0
)

// 90kHz，pts 33位
const (
	ptsMask = 1<<33 - 1
)

// TimestampUs2Pts 微秒时间戳转换为90kHz的pts
func TimestampUs2Pts(timestampUs int64) int64 {
	return (timestampUs * 90 / 1000) & ptsMask
}
