// Copyright 2021, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp_test

import (
	"testing"
	"time"

	"github.com/q191201771/lalrtp/pkg/rtprtcp"
	"github.com/q191201771/naza/pkg/assert"
)

func TestMswLsw2UnixNano(t *testing.T) {
	u := rtprtcp.MswLsw2UnixNano(3805600902, 2181843386)
	tt := time.Unix(int64(u/1e9), int64(u%1e9)).UTC()
	assert.Equal(t, 2020, tt.Year())
	assert.Equal(t, time.August, tt.Month())
}

func TestMswLsw2Time(t *testing.T) {
	tt := rtprtcp.MswLsw2Time(1600000000+2208988800, 1<<31)
	assert.Equal(t, int64(1600000000500000000), tt.UnixNano())

	assert.Equal(t, true, rtprtcp.MswLsw2Time(0, 1<<31).IsZero())
	assert.Equal(t, true, rtprtcp.MswLsw2Time(0x11223344, 0x55667788).IsZero())
}

func TestCompactNtp(t *testing.T) {
	assert.Equal(t, uint32(0x1000)<<16|0x8000, rtprtcp.CompactNtp(0xABCD1000, 0x80000000))
}
